// Package encoder converts uploaded recordings into the two ogg variants
// played by radio clients. Conversions run through an external transcoder
// (FFmpeg) on a single background worker.
package encoder

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"crowd-radio/internal/storage"
)

// Variant identifies one derived output of a recording.
type Variant string

const (
	// VariantPlain is a resample to the configured sample rate.
	VariantPlain Variant = "plain"
	// VariantLowpass is the same resample passed through a low-pass filter.
	VariantLowpass Variant = "lowpass"
)

// Variants lists the outputs of a job in processing order.
var Variants = [2]Variant{VariantPlain, VariantLowpass}

// Suffix returns the filename suffix, including extension, for the variant.
func (v Variant) Suffix() string {
	if v == VariantLowpass {
		return "-lowpass.ogg"
	}
	return ".ogg"
}

// Config holds transcoding configuration.
type Config struct {
	Binary        string        // Transcoder executable (default: ffmpeg)
	SampleRate    int           // Output sample rate in Hz (default: 44100)
	LowpassCutoff int           // Low-pass cutoff in Hz (default: 400)
	ExitWait      time.Duration // Wait for exit once output closes, or for output to close after exit
	Timeout       time.Duration // Upper bound for one invocation; zero means none
	QueueSize     int           // Pending jobs before Submit starts dropping
}

// DefaultConfig returns the default transcoding configuration.
// Radio clients play everything at one fixed sample rate, so every variant is
// resampled to 44.1kHz.
func DefaultConfig() Config {
	return Config{
		Binary:        "ffmpeg",
		SampleRate:    44100,
		LowpassCutoff: 400,
		ExitWait:      time.Second,
		QueueSize:     256,
	}
}

// Transcoder produces one variant of an input file.
type Transcoder interface {
	// Transcode writes the variant of input to output, overwriting it.
	Transcode(ctx context.Context, input, output string, variant Variant) error
}

// Job is one recording waiting for conversion. Outputs follow Variants order.
type Job struct {
	Source  string
	Outputs [2]string
}

// NewJob builds the job for source. Sources under the recordings root are
// converted into the mirrored path under the converted root; anything else is
// converted beside the source.
func NewJob(layout storage.Layout, source string) Job {
	dir := filepath.Dir(source)
	if rel, err := filepath.Rel(layout.RecordingsDir, source); err == nil &&
		rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		dir = filepath.Join(layout.ConvertedDir, filepath.Dir(rel))
	}

	name := filepath.Base(source)
	base := strings.TrimSuffix(name, filepath.Ext(name))

	var job Job
	job.Source = source
	for i, v := range Variants {
		job.Outputs[i] = filepath.Join(dir, base+v.Suffix())
	}
	return job
}
