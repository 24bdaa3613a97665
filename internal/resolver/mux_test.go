package resolver

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/grabd/grabd/internal/domain"
)

type muxBackend struct {
	prefix string
	err    error
	calls  int
}

func (b *muxBackend) Resolve(ctx context.Context, url string) (string, []domain.VariantDescriptor, error) {
	b.calls++
	if b.err != nil {
		return "", nil, b.err
	}
	if len(url) < len(b.prefix) || url[:len(b.prefix)] != b.prefix {
		return "", nil, domain.ErrUnsupportedURL
	}
	return b.prefix, []domain.VariantDescriptor{{ID: "v"}}, nil
}

func (b *muxBackend) Open(ctx context.Context, url string, v domain.VariantDescriptor) (io.ReadCloser, int64, error) {
	return nil, 0, domain.ErrUnsupportedURL
}

func TestMuxPicksFirstClaimingBackend(t *testing.T) {
	a := &muxBackend{prefix: "http://a.example"}
	b := &muxBackend{prefix: "http://b.example"}
	m := NewMux(a, b)

	title, _, err := m.Resolve(context.Background(), "http://b.example/clip")
	if err != nil {
		t.Fatal(err)
	}
	if title != "http://b.example" {
		t.Fatalf("resolved by %q", title)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d", a.calls, b.calls)
	}
}

func TestMuxStopsOnRealError(t *testing.T) {
	failing := &muxBackend{err: domain.ErrAuthRequired}
	fallback := &muxBackend{prefix: "http://"}
	m := NewMux(failing, fallback)

	_, _, err := m.Resolve(context.Background(), "http://example.com/clip")
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback must not run after a definitive error")
	}
}

func TestMuxNoBackendClaims(t *testing.T) {
	m := NewMux(&muxBackend{prefix: "http://a.example"})

	_, _, err := m.Resolve(context.Background(), "ftp://elsewhere/clip")
	if !errors.Is(err, domain.ErrUnsupportedURL) {
		t.Fatalf("err = %v, want ErrUnsupportedURL", err)
	}
}
