package update

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// memSource serves content from memory and counts requests per key
type memSource struct {
	mu       sync.Mutex
	content  map[string][]byte
	requests map[string]int
	manifest *Update
	err      error
}

func newMemSource(content map[string]string) *memSource {
	s := &memSource{content: make(map[string][]byte), requests: make(map[string]int)}
	for k, v := range content {
		s.content[k] = []byte(v)
	}
	return s
}

func (s *memSource) GetContent(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx, "get content"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[key]++
	data, ok := s.content[key]
	if !ok {
		return nil, domain.NewAppError(domain.ErrNotFound, "Content not found", 404, map[string]any{"key": key})
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memSource) GetManifest(ctx context.Context) (*Update, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.manifest, nil
}

func (s *memSource) totalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

func digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return EncodeDigest(sum[:])
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func v(s string) domain.Version {
	return domain.MustParseVersion(s)
}
