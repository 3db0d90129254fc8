package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreUploadAndGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	loc, err := s.Upload(context.Background(), "org-1", "ctx-1", "screenshot", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	b, ok := s.Get(loc)
	require.True(t, ok)
	require.Equal(t, []byte("png-bytes"), b)
}

func TestMemStoreGetMissingLocation(t *testing.T) {
	s := NewMemStore()
	_, ok := s.Get("mem://nothing")
	require.False(t, ok)
}
