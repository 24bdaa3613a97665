package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grabd/grabd/internal/domain"
)

// blockingStream delivers queued chunks and then blocks until closed,
// letting tests exercise cancellation and stall handling.
type blockingStream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed chan struct{}
	once   sync.Once
}

func newBlockingStream(chunks ...[]byte) *blockingStream {
	return &blockingStream{chunks: chunks, closed: make(chan struct{})}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return copy(p, chunk), nil
	}
	s.mu.Unlock()

	<-s.closed
	return 0, errors.New("stream closed")
}

func (s *blockingStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func newExecutor() *Executor {
	return &Executor{
		TempSuffix:       ".part",
		ProgressInterval: 10 * time.Millisecond,
	}
}

func TestRunWritesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")
	body := strings.Repeat("x", 4096)

	var prog domain.Progress
	exec := newExecutor()

	final, err := exec.Run(context.Background(), io.NopCloser(strings.NewReader(body)), int64(len(body)), dest, &prog, 0)
	if err != nil {
		t.Fatal(err)
	}
	if final != dest {
		t.Fatalf("final path = %s, want %s", final, dest)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Fatal("file content mismatch")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after success")
	}
	if prog.BytesDone() != int64(len(body)) {
		t.Fatalf("bytes done = %d, want %d", prog.BytesDone(), len(body))
	}
}

func TestRunPicksUniqueName(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	var prog domain.Progress
	final, err := newExecutor().Run(context.Background(), io.NopCloser(strings.NewReader("new")), 3, dest, &prog, 0)
	if err != nil {
		t.Fatal(err)
	}
	if final != filepath.Join(dir, "clip (1).mp4") {
		t.Fatalf("final path = %s", final)
	}
	if data, _ := os.ReadFile(dest); string(data) != "old" {
		t.Fatal("existing file was overwritten")
	}
}

func TestRunCancelRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")
	stream := newBlockingStream([]byte("partial"))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	var prog domain.Progress
	go func() {
		_, err := newExecutor().Run(ctx, stream, -1, dest, &prog, 0)
		done <- err
	}()

	// Let the first chunk land, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not observe cancellation")
	}

	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after cancel")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("final file must not exist after cancel")
	}
}

func TestRunIdleTimeoutIsStreamError(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")
	stream := newBlockingStream([]byte("some data"))

	exec := newExecutor()
	exec.IdleTimeout = 100 * time.Millisecond

	var prog domain.Progress
	_, err := exec.Run(context.Background(), stream, -1, dest, &prog, 0)
	if !errors.Is(err, domain.ErrStreamInterrupted) {
		t.Fatalf("err = %v, want ErrStreamInterrupted", err)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after stall")
	}
}

func TestRunStreamErrorMidTransfer(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")

	r := io.MultiReader(strings.NewReader("first half"), &failingReader{})
	var prog domain.Progress
	_, err := newExecutor().Run(context.Background(), io.NopCloser(r), -1, dest, &prog, 0)
	if !errors.Is(err, domain.ErrStreamInterrupted) {
		t.Fatalf("err = %v, want ErrStreamInterrupted", err)
	}
}

type failingReader struct{}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestRunEmitsMonotoneSamples(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "clip.mp4")
	body := strings.Repeat("y", 3*1024*1024)

	var mu sync.Mutex
	var samples []domain.ProgressSnapshot

	exec := newExecutor()
	exec.OnSample = func(s domain.ProgressSnapshot) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	}

	var prog domain.Progress
	if _, err := exec.Run(context.Background(), io.NopCloser(strings.NewReader(body)), int64(len(body)), dest, &prog, 2); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(samples) == 0 {
		t.Fatal("expected at least one progress sample")
	}
	var last int64 = -1
	for _, s := range samples {
		if s.BytesDone < last {
			t.Fatalf("bytes done went backwards: %d after %d", s.BytesDone, last)
		}
		last = s.BytesDone
		if s.RetryCount != 2 {
			t.Fatalf("retry count = %d, want 2", s.RetryCount)
		}
	}
	if last != int64(len(body)) {
		t.Fatalf("final sample bytes = %d, want %d", last, len(body))
	}
}
