package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/grabd/grabd/internal/domain"
)

// Direct resolves plain media URLs over HTTP: one variant, metadata from a
// HEAD request. It is the built-in backend; richer extractors plug in behind
// the same interface.
type Direct struct {
	client *http.Client

	// cookiesFile is passed through from config. Its contents are sent
	// verbatim as the Cookie header; the core never inspects them.
	cookiesFile string
}

func NewDirect(cookiesFile string) *Direct {
	return &Direct{
		client: &http.Client{
			Timeout: 0, // transfers are long-lived; cancellation comes from ctx
		},
		cookiesFile: cookiesFile,
	}
}

func (d *Direct) Resolve(ctx context.Context, rawURL string) (string, []domain.VariantDescriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", nil, fmt.Errorf("%q: %w", rawURL, domain.ErrUnsupportedURL)
	}

	ctx, cancel := withTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%q: %w", rawURL, domain.ErrUnsupportedURL)
	}
	d.setHeaders(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("head %s: %v: %w", rawURL, err, domain.ErrNetworkUnavailable)
	}
	resp.Body.Close()

	size := resp.ContentLength
	if resp.StatusCode >= 400 {
		// Some servers reject HEAD outright but serve GET just fine.
		// Re-probe with a one-byte ranged GET and trust its answer.
		if gresp, gsize, gerr := d.rangeProbe(ctx, rawURL); gerr == nil {
			resp, size = gresp, gsize
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrAuthRequired)
	case resp.StatusCode >= 400:
		return "", nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrNoVariants)
	}

	container := containerFrom(resp.Header.Get("Content-Type"), u.Path)
	note := "original"
	if resp.Header.Get("Accept-Ranges") == "bytes" || resp.StatusCode == http.StatusPartialContent {
		note = "original, resumable"
	}
	variant := domain.VariantDescriptor{
		ID:        "direct",
		Container: container,
		Note:      note,
	}
	if size > 0 {
		variant.SizeBytes = size
	}

	return titleFrom(u), []domain.VariantDescriptor{variant}, nil
}

// rangeProbe issues a GET for the first byte only. The response stands in
// for a refused HEAD: its status is authoritative, and for 206 answers the
// full size comes from Content-Range.
func (d *Direct) rangeProbe(ctx context.Context, rawURL string) (*http.Response, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	d.setHeaders(req)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	resp.Body.Close()

	size := resp.ContentLength
	if resp.StatusCode == http.StatusPartialContent {
		size = totalFromContentRange(resp.Header.Get("Content-Range"))
	}
	return resp, size, nil
}

// totalFromContentRange extracts the complete length from a header like
// "bytes 0-0/12345". Returns -1 when the server reports "*" or garbage.
func totalFromContentRange(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (d *Direct) Open(ctx context.Context, rawURL string, variant domain.VariantDescriptor) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%q: %w", rawURL, domain.ErrUnsupportedURL)
	}
	d.setHeaders(req)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, context.Canceled
		}
		return nil, 0, fmt.Errorf("get %s: %v: %w", rawURL, err, domain.ErrStreamInterrupted)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrAuthRequired)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrStreamInterrupted)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}
	return resp.Body, total, nil
}

func (d *Direct) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "grabd/1.0")
	if d.cookiesFile == "" {
		return
	}
	raw, err := os.ReadFile(d.cookiesFile)
	if err != nil {
		return
	}
	if cookie := strings.TrimSpace(string(raw)); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

func titleFrom(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Host
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func containerFrom(contentType, urlPath string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if idx := strings.Index(mt, "/"); idx >= 0 {
			sub := mt[idx+1:]
			switch sub {
			case "mp4", "webm", "mpeg", "ogg":
				return sub
			case "x-matroska":
				return "mkv"
			}
		}
	}
	if ext := strings.TrimPrefix(path.Ext(urlPath), "."); ext != "" {
		return ext
	}
	return "bin"
}

// interface guard
var _ interface {
	Resolve(context.Context, string) (string, []domain.VariantDescriptor, error)
	Open(context.Context, string, domain.VariantDescriptor) (io.ReadCloser, int64, error)
} = (*Direct)(nil)

// withTimeout is a convenience for resolve calls that should not hang on an
// unresponsive host even without caller deadlines.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
