// Package fetch is the injected capability the asset loader uses to resolve
// a reference into raw bytes. The loader never cares whether bytes come from
// disk or a remote asset server.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

var (
	ErrNotFound  = errors.New("fetch: not found")
	ErrForbidden = errors.New("fetch: forbidden")
)

// Fetcher resolves a reference to its raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FileFetcher reads references as paths under an optional root directory.
type FileFetcher struct {
	Root string
}

func (f *FileFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	path := ref
	if f.Root != "" && !filepath.IsAbs(ref) {
		path = filepath.Join(f.Root, ref)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrForbidden, ref)
		}
		return nil, err
	}
	return b, nil
}

// HTTPFetcher resolves references as URLs, optionally prefixed by BaseURL.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := f.BaseURL + ref

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, url)
	default:
		return nil, fmt.Errorf("fetch: %s returned status %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Retriable reports whether an error is worth retrying. Not-found, forbidden
// and cancellation fail immediately.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
