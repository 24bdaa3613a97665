package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/fileutil"
	"github.com/grabd/grabd/internal/infra/logger"
)

const (
	copyBufSize = 32 * 1024
	// sampleByteThreshold forces a progress sample after this many bytes
	// even if the interval has not elapsed, so fast local transfers still
	// report movement without flooding the bus.
	sampleByteThreshold = 1 << 20
	// speedHalfLife is the smoothing window for the speed estimate.
	speedHalfLife = 2 * time.Second
	// watchdogTick bounds how late a stall or cancel is noticed while a
	// read is blocked.
	watchdogTick = 200 * time.Millisecond
)

// Executor drives one variant's byte stream into the destination file.
// It writes to dest+TempSuffix and renames to a unique final name only on
// full success; on cancel or failure the temp file is removed.
type Executor struct {
	TempSuffix       string
	ProgressInterval time.Duration
	IdleTimeout      time.Duration // 0 disables stall detection
	Logger           *logger.Logger

	// OnSample receives throttled progress snapshots. May be nil.
	OnSample func(domain.ProgressSnapshot)
}

// Run consumes stream until EOF and returns the final path of the completed
// file. totalBytes may be -1 when the length is unknown. The job's Progress
// is the only job state the executor touches.
func (e *Executor) Run(ctx context.Context, stream io.ReadCloser, totalBytes int64, dest string, prog *domain.Progress, retryCount int) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", domain.ErrDiskIO)
	}

	tmpPath := dest + e.tempSuffix()
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp file %s: %w", tmpPath, domain.ErrDiskIO)
	}

	prog.Reset()
	if totalBytes > 0 {
		prog.SetTotal(totalBytes)
	}

	// The watchdog is the only way to interrupt a blocked read: closing
	// the stream forces the pending Read to return.
	var stalled atomic.Bool
	var lastReadNano atomic.Int64
	lastReadNano.Store(time.Now().UnixNano())

	watchdogDone := make(chan struct{})
	var closeOnce sync.Once
	closeStream := func() { closeOnce.Do(func() { stream.Close() }) }
	defer closeStream()

	go func() {
		ticker := time.NewTicker(watchdogTick)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-ctx.Done():
				closeStream()
				return
			case <-ticker.C:
				if e.IdleTimeout <= 0 {
					continue
				}
				idle := time.Since(time.Unix(0, lastReadNano.Load()))
				if idle >= e.IdleTimeout {
					stalled.Store(true)
					closeStream()
					return
				}
			}
		}
	}()

	err = e.copyLoop(ctx, tmp, stream, prog, retryCount, &lastReadNano)
	close(watchdogDone)

	if err == nil {
		err = ctx.Err()
	}
	if err == nil && stalled.Load() {
		err = fmt.Errorf("no data for %s: %w", e.IdleTimeout, domain.ErrStreamInterrupted)
	}

	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		switch {
		case ctx.Err() != nil:
			return "", context.Cause(ctx)
		case stalled.Load():
			return "", fmt.Errorf("no data for %s: %w", e.IdleTimeout, domain.ErrStreamInterrupted)
		default:
			return "", err
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file: %w", domain.ErrDiskIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", domain.ErrDiskIO)
	}

	finalPath := fileutil.EnsureUniquePath(dest)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename to final name: %w", domain.ErrDiskIO)
	}

	prog.SetSpeed(0)
	e.sample(prog, retryCount)
	return finalPath, nil
}

func (e *Executor) copyLoop(ctx context.Context, dst *os.File, src io.Reader, prog *domain.Progress, retryCount int, lastReadNano *atomic.Int64) error {
	buf := make([]byte, copyBufSize)

	lastSample := time.Now()
	var bytesSinceSample int64
	var ewma float64
	ewmaAt := time.Now()

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		n, readErr := src.Read(buf)
		now := time.Now()
		if n > 0 {
			lastReadNano.Store(now.UnixNano())

			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write: %v: %w", werr, domain.ErrDiskIO)
			}
			prog.AddBytes(int64(n))
			bytesSinceSample += int64(n)

			// EWMA over the observed byte deltas, half-life ~2s.
			dt := now.Sub(ewmaAt).Seconds()
			if dt > 0 {
				inst := float64(n) / dt
				alpha := 1 - math.Exp(-dt*math.Ln2/speedHalfLife.Seconds())
				ewma += alpha * (inst - ewma)
				ewmaAt = now
				prog.SetSpeed(ewma)
			}
		}

		if now.Sub(lastSample) >= e.interval() || bytesSinceSample >= sampleByteThreshold {
			e.sample(prog, retryCount)
			lastSample = now
			bytesSinceSample = 0
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("read: %v: %w", readErr, domain.ErrStreamInterrupted)
		}
	}
}

func (e *Executor) sample(prog *domain.Progress, retryCount int) {
	if e.OnSample != nil {
		e.OnSample(prog.Snapshot(retryCount))
	}
}

func (e *Executor) tempSuffix() string {
	if e.TempSuffix == "" {
		return ".part"
	}
	return e.TempSuffix
}

func (e *Executor) interval() time.Duration {
	if e.ProgressInterval <= 0 {
		return 500 * time.Millisecond
	}
	return e.ProgressInterval
}
