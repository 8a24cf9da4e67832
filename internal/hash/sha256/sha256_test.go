package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if key := h.Key("hello world"); key != got {
		t.Fatalf("expected Key to match Hash, got %s vs %s", key, got)
	}
}

func TestKeyDistinguishesURLs(t *testing.T) {
	t.Parallel()

	h := New()
	if h.Key("https://a.test/") == h.Key("https://a.test/b") {
		t.Fatal("expected distinct keys for distinct URLs")
	}
}
