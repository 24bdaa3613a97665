package domain

import (
	"fmt"
	"sort"
	"strings"
)

// VariantDescriptor is one selectable quality/format option for a source URL.
// Produced once by the resolver and never mutated.
type VariantDescriptor struct {
	ID         string  `json:"id"`
	Resolution string  `json:"resolution,omitempty"` // e.g. "1080p"
	FPS        int     `json:"fps,omitempty"`
	VideoCodec string  `json:"vcodec,omitempty"`
	AudioCodec string  `json:"acodec,omitempty"`
	Container  string  `json:"container,omitempty"` // e.g. "mp4"
	Bitrate    float64 `json:"bitrate,omitempty"`   // kbit/s, 0 if unknown
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Height parses the numeric part of the resolution ("720p" -> 720).
func (v VariantDescriptor) Height() int {
	var h int
	fmt.Sscanf(strings.TrimSuffix(v.Resolution, "p"), "%d", &h)
	return h
}

// DisplayText builds the human-readable label shown in variant listings.
func (v VariantDescriptor) DisplayText() string {
	var parts []string
	if v.Resolution != "" {
		parts = append(parts, v.Resolution)
	}
	if v.FPS > 0 {
		parts = append(parts, fmt.Sprintf("%dfps", v.FPS))
	}
	if v.VideoCodec != "" && v.VideoCodec != "none" {
		parts = append(parts, v.VideoCodec)
	}
	if v.AudioCodec != "" && v.AudioCodec != "none" {
		parts = append(parts, v.AudioCodec)
	}
	if v.SizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("%.1f MB", float64(v.SizeBytes)/(1024*1024)))
	}
	if v.Container != "" {
		parts = append(parts, v.Container)
	}
	if v.Note != "" {
		parts = append(parts, v.Note)
	}
	return strings.Join(parts, " | ")
}

// SortVariants orders variants best-first: resolution, then fps, then
// bitrate, then size.
func SortVariants(variants []VariantDescriptor) {
	sort.SliceStable(variants, func(i, j int) bool {
		a, b := variants[i], variants[j]
		if a.Height() != b.Height() {
			return a.Height() > b.Height()
		}
		if a.FPS != b.FPS {
			return a.FPS > b.FPS
		}
		if a.Bitrate != b.Bitrate {
			return a.Bitrate > b.Bitrate
		}
		return a.SizeBytes > b.SizeBytes
	})
}
