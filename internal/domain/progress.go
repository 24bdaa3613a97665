package domain

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"
)

// Progress holds the transfer counters for one job. The executor running
// the job is the only writer; readers take snapshots at any time.
type Progress struct {
	bytesDone  atomic.Int64
	totalBytes atomic.Int64
	speedBits  atomic.Uint64 // float64 bytes/sec, stored via Float64bits
}

func (p *Progress) BytesDone() int64  { return p.bytesDone.Load() }
func (p *Progress) TotalBytes() int64 { return p.totalBytes.Load() }

func (p *Progress) AddBytes(n int64)     { p.bytesDone.Add(n) }
func (p *Progress) SetTotal(n int64)     { p.totalBytes.Store(n) }
func (p *Progress) SetSpeed(bps float64) { p.speedBits.Store(math.Float64bits(bps)) }

func (p *Progress) Speed() float64 {
	return math.Float64frombits(p.speedBits.Load())
}

// Reset zeroes the counters for a transfer that starts from scratch.
func (p *Progress) Reset() {
	p.bytesDone.Store(0)
	p.SetSpeed(0)
}

// Snapshot captures a consistent-enough view for events and API responses.
func (p *Progress) Snapshot(retryCount int) ProgressSnapshot {
	return ProgressSnapshot{
		BytesDone:  p.BytesDone(),
		TotalBytes: p.TotalBytes(),
		Speed:      p.Speed(),
		ETA:        etaFor(p.BytesDone(), p.TotalBytes(), p.Speed()),
		RetryCount: retryCount,
	}
}

// ProgressSnapshot is the immutable progress view carried by events.
// ETA is -1 when the total size or speed is unknown.
type ProgressSnapshot struct {
	BytesDone  int64         `json:"bytes_done"`
	TotalBytes int64         `json:"total_bytes,omitempty"`
	Speed      float64       `json:"speed_bps"`
	ETA        time.Duration `json:"eta_ns"`
	RetryCount int           `json:"retry_count"`
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (s ProgressSnapshot) Percent() float64 {
	if s.TotalBytes <= 0 {
		return -1
	}
	return math.Min(100, float64(s.BytesDone)/float64(s.TotalBytes)*100)
}

func etaFor(done, total int64, speed float64) time.Duration {
	if total <= 0 || speed <= 0 || done > total {
		return -1
	}
	return time.Duration(float64(total-done) / speed * float64(time.Second))
}

// MarshalJSON serializes the snapshot rather than the atomic fields so a
// Job can be encoded directly. The retry count lives on the Job itself.
func (p *Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot(0))
}
