package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, opts := newTestServer(t)

	admin, err := pubsub.NewClient(ctx, "test-project", opts...)
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "pages")
	require.NoError(t, err)

	pub, err := New(ctx, Config{ProjectID: "test-project", TopicID: "pages"}, opts...)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "page", map[string]any{"url": "https://example.com/"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "https://example.com/", got["url"])
	require.Equal(t, "page", msgs[0].Attributes["kind"])
}

func TestNewRejectsMissingTopic(t *testing.T) {
	t.Parallel()

	_, opts := newTestServer(t)
	_, err := New(context.Background(), Config{ProjectID: "test-project", TopicID: "absent"}, opts...)
	require.ErrorContains(t, err, "does not exist")

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

func TestPublishUnmarshalable(t *testing.T) {
	t.Parallel()

	p := &Publisher{topic: &pubsub.Topic{}}
	_, err := p.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
