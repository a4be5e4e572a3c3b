package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	args := m.Called(ctx, path, contentType, string(data))
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

func TestArchiverWritesContentAddressedPath(t *testing.T) {
	t.Parallel()

	blobs := &mockBlobStore{}
	hasher := sha256.New()
	archiver := NewArchiver(blobs, hasher, "/pages/", "")
	html := []byte("<html>Dune</html>")
	digest, err := hasher.Hash(html)
	require.NoError(t, err)

	blobs.On("PutObject", mock.Anything, "pages/job-1/"+digest+".html", defaultContentType, string(html)).
		Return("memory://pages/job-1/"+digest+".html", nil).Once()

	uri, err := archiver.Archive(context.Background(), "job-1", html)
	require.NoError(t, err)
	require.Equal(t, "memory://pages/job-1/"+digest+".html", uri)
	blobs.AssertExpectations(t)
}

func TestArchiverPropagatesErrors(t *testing.T) {
	t.Parallel()

	blobs := &mockBlobStore{}
	blobs.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket gone"))

	_, err := NewArchiver(blobs, sha256.New(), "p", "text/html").Archive(context.Background(), "j", []byte("x"))
	require.ErrorContains(t, err, "bucket gone")
}

func TestArchiverDisabled(t *testing.T) {
	t.Parallel()

	archiver := NewArchiver(nil, sha256.New(), "p", "")
	require.False(t, archiver.Enabled())
	uri, err := archiver.Archive(context.Background(), "j", []byte("x"))
	require.NoError(t, err)
	require.Empty(t, uri)
}
