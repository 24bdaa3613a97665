package resolver

import (
	"context"
	"errors"
	"io"

	"github.com/grabd/grabd/internal/app"
	"github.com/grabd/grabd/internal/domain"
)

// Mux fans a URL out to the first backend that claims it. Backends signal
// "not mine" with domain.ErrUnsupportedURL; any other error is final and
// stops the scan, since the URL was recognized but could not be resolved.
type Mux struct {
	backends []app.Resolver
}

func NewMux(backends ...app.Resolver) *Mux {
	return &Mux{backends: backends}
}

func (m *Mux) Resolve(ctx context.Context, url string) (string, []domain.VariantDescriptor, error) {
	for _, b := range m.backends {
		title, variants, err := b.Resolve(ctx, url)
		if errors.Is(err, domain.ErrUnsupportedURL) {
			continue
		}
		return title, variants, err
	}
	return "", nil, domain.ErrUnsupportedURL
}

// Open routes to the first backend claiming the URL, mirroring Resolve.
func (m *Mux) Open(ctx context.Context, url string, variant domain.VariantDescriptor) (io.ReadCloser, int64, error) {
	for _, b := range m.backends {
		stream, total, err := b.Open(ctx, url, variant)
		if errors.Is(err, domain.ErrUnsupportedURL) {
			continue
		}
		return stream, total, err
	}
	return nil, 0, domain.ErrUnsupportedURL
}
