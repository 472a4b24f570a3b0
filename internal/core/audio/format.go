// Package audio detects input formats and turns any supported file into the
// canonical PCM buffer the inference runner consumes.
package audio

import (
	"strings"
	"time"
)

// Format is a detected audio container or codec.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatOpus    Format = "opus"
	FormatAIFF    Format = "aiff"
	FormatMP3     Format = "mp3"
	FormatAAC     Format = "aac"
	FormatM4A     Format = "m4a"
	FormatALAC    Format = "alac"
	FormatWMA     Format = "wma"
)

// Native reports whether the format is decoded in-process.
func (f Format) Native() bool {
	switch f {
	case FormatWAV, FormatFLAC, FormatOGG, FormatAIFF, FormatMP3:
		return true
	}
	return false
}

// Convertible reports whether the format needs the external conversion step.
func (f Format) Convertible() bool {
	switch f {
	case FormatM4A, FormatAAC, FormatALAC, FormatWMA, FormatOpus:
		return true
	}
	return false
}

func (f Format) String() string {
	if f == FormatUnknown {
		return "unknown"
	}
	return string(f)
}

// formatFromExt maps a file extension to a format. Used only as the last fallback.
func formatFromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav", "wave":
		return FormatWAV
	case "flac":
		return FormatFLAC
	case "ogg", "oga":
		return FormatOGG
	case "opus":
		return FormatOpus
	case "aif", "aiff", "aifc":
		return FormatAIFF
	case "mp3":
		return FormatMP3
	case "aac":
		return FormatAAC
	case "m4a", "m4b", "mp4":
		return FormatM4A
	case "alac":
		return FormatALAC
	case "wma", "asf":
		return FormatWMA
	}
	return FormatUnknown
}

// Source is an input file with its detected format.
type Source struct {
	Path   string
	Format Format
}

// Buffer holds interleaved float32 PCM in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Slice returns the frames in [start, end). The samples are shared, not copied.
func (b *Buffer) Slice(start, end int) *Buffer {
	frames := b.Frames()
	if start < 0 {
		start = 0
	}
	if end > frames {
		end = frames
	}
	if start > end {
		start = end
	}
	return &Buffer{
		Samples:    b.Samples[start*b.Channels : end*b.Channels],
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}
