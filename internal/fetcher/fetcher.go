// Package fetcher moves bytes from HTTP and FTP endpoints and decodes tabular
// documents (CSV, XLSX) into header-addressable tables.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/sells-group/permit-cli/internal/resilience"
)

// Fetcher downloads remote documents. Failures carry a resilience.Kind.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Get fetches the URL with the given headers and returns the full body.
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// Router dispatches ftp:// URLs to an FTP fetcher and everything else to HTTP.
type Router struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "ftp://") {
		if r.FTP == nil {
			return nil, resilience.Errorf(resilience.KindPermanent, "fetcher: download", "no ftp fetcher configured for %s", rawURL)
		}
		return r.FTP.Download(ctx, rawURL)
	}
	return r.HTTP.Download(ctx, rawURL)
}

// Get implements Fetcher.
func (r *Router) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "ftp://") {
		rc, err := r.Download(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		return readAll(rc, "fetcher: read ftp body")
	}
	return r.HTTP.Get(ctx, rawURL, header)
}

func readAll(r io.Reader, op string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewError(resilience.Classify(err), op, err)
	}
	return data, nil
}
