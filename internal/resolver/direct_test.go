package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/grabd/grabd/internal/domain"
)

func TestResolveDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1048576")
	}))
	defer srv.Close()

	d := NewDirect("")
	title, variants, err := d.Resolve(context.Background(), srv.URL+"/clips/holiday.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if title != "holiday" {
		t.Errorf("title = %q, want holiday", title)
	}
	if len(variants) != 1 {
		t.Fatalf("got %d variants, want 1", len(variants))
	}
	v := variants[0]
	if v.Container != "mp4" || v.SizeBytes != 1048576 {
		t.Errorf("unexpected variant %+v", v)
	}
}

func TestResolveErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/private":
			w.WriteHeader(http.StatusForbidden)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDirect("")

	if _, _, err := d.Resolve(context.Background(), "ftp://example.com/a.mp4"); !errors.Is(err, domain.ErrUnsupportedURL) {
		t.Errorf("ftp scheme: err = %v, want ErrUnsupportedURL", err)
	}
	if _, _, err := d.Resolve(context.Background(), srv.URL+"/private"); !errors.Is(err, domain.ErrAuthRequired) {
		t.Errorf("403: err = %v, want ErrAuthRequired", err)
	}
	if _, _, err := d.Resolve(context.Background(), srv.URL+"/gone"); !errors.Is(err, domain.ErrNoVariants) {
		t.Errorf("404: err = %v, want ErrNoVariants", err)
	}

	// Connection refused maps to NetworkUnavailable.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()
	if _, _, err := d.Resolve(context.Background(), deadURL+"/x.mp4"); !errors.Is(err, domain.ErrNetworkUnavailable) {
		t.Errorf("refused: err = %v, want ErrNetworkUnavailable", err)
	}
}

func TestResolveFallsBackWhenHeadRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if got := r.Header.Get("Range"); got != "bytes=0-0" {
			t.Errorf("range header = %q, want bytes=0-0", got)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-0/1048576")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer srv.Close()

	d := NewDirect("")
	title, variants, err := d.Resolve(context.Background(), srv.URL+"/clips/holiday.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if title != "holiday" {
		t.Errorf("title = %q, want holiday", title)
	}
	if len(variants) != 1 {
		t.Fatalf("got %d variants, want 1", len(variants))
	}
	v := variants[0]
	if v.Container != "mp4" || v.SizeBytes != 1048576 {
		t.Errorf("unexpected variant %+v", v)
	}
	if v.Note != "original, resumable" {
		t.Errorf("note = %q, want resumable", v.Note)
	}
}

func TestResolveTrustsGetStatusOverHead(t *testing.T) {
	// HEAD says 405, GET says 401: the GET verdict wins.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDirect("")
	if _, _, err := d.Resolve(context.Background(), srv.URL+"/clip.mp4"); !errors.Is(err, domain.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}

func TestOpenStreamsBody(t *testing.T) {
	body := "media bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	d := NewDirect("")
	stream, total, err := d.Open(context.Background(), srv.URL+"/clip.mp4", domain.VariantDescriptor{ID: "direct"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if total != int64(len(body)) {
		t.Errorf("total = %d, want %d", total, len(body))
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Fatal("body mismatch")
	}
}

func TestCookiesFilePassedThrough(t *testing.T) {
	dir := t.TempDir()
	cookiePath := filepath.Join(dir, "cookies.txt")
	if err := os.WriteFile(cookiePath, []byte("session=abc123\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
	}))
	defer srv.Close()

	d := NewDirect(cookiePath)
	if _, _, err := d.Resolve(context.Background(), srv.URL+"/clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if gotCookie != "session=abc123" {
		t.Errorf("cookie header = %q", gotCookie)
	}
}
