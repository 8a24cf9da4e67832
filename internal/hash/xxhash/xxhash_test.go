package xxhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsStableAndFixedWidth(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("<html>same</html>"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("<html>same</html>"))
	require.NoError(t, err)
	c, err := h.Hash([]byte("<html>different</html>"))
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 16)

	empty, err := h.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "ef46db3751d8e999", empty)
}
