// Package storage persists uploaded documents and resolves document
// references (s3://, http(s)://, file:// and plain paths) to bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedRef is returned for reference schemes Fetch cannot read.
var ErrUnsupportedRef = errors.New("unsupported document reference")

// Store is a place uploads are written to.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta *FileMetadata) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*S3Client)(nil)
	_ Store = (*Local)(nil)
)

// Fetcher reads document references. MaxBytes caps every source. Local
// files are only read from under LocalRoot; with no root they are refused.
type Fetcher struct {
	S3        *S3Client
	HTTP      *http.Client
	MaxBytes  int64
	LocalRoot string
}

// Fetch resolves ref to document bytes. A trailing #fragment is ignored.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		return f.readFile(strings.TrimPrefix(ref, "file://"))
	case strings.Contains(ref, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
	default:
		return f.readFile(ref)
	}
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) ([]byte, error) {
	if f.S3 == nil {
		return nil, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedRef)
	}
	path := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return nil, fmt.Errorf("invalid s3 url: %s", ref)
	}
	data, _, err := f.S3.Download(ctx, path[:slash], path[slash+1:])
	return data, err
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}
	data, err := f.readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	if f.LocalRoot == "" {
		return nil, fmt.Errorf("%w: local files are disabled", ErrUnsupportedRef)
	}
	full, err := f.localPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer file.Close()
	data, err := f.readAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// localPath resolves path, following symlinks, and requires it to stay under
// LocalRoot.
func (f *Fetcher) localPath(path string) (string, error) {
	root, err := filepath.Abs(f.LocalRoot)
	if err != nil {
		return "", fmt.Errorf("local root: %w", err)
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	full, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	full, err = filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrUnsupportedRef, path, f.LocalRoot)
	}
	return full, nil
}

func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("larger than %d bytes", f.MaxBytes)
	}
	return data, nil
}
