package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crowd-radio/internal/apperr"
)

// FFmpegTranscoder implements Transcoder by running FFmpeg once per variant.
type FFmpegTranscoder struct {
	config Config
	log    zerolog.Logger
}

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
func NewFFmpegTranscoder(config Config, logger zerolog.Logger) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		config: config,
		log:    logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// NewDefaultTranscoder creates a transcoder with default configuration.
func NewDefaultTranscoder(logger zerolog.Logger) *FFmpegTranscoder {
	return NewFFmpegTranscoder(DefaultConfig(), logger)
}

// Transcode runs FFmpeg and waits for it to finish. Output lines are logged
// at debug level. The tool runs in its own process group; a timeout or an
// exit wait that runs out kills the whole group.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, input, output string, variant Variant) error {
	const op = "encoder.Transcode"

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return apperr.Wrap(apperr.KindExternalTool, op, err, "could not create output directory")
	}

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	args := t.buildArgs(input, output, variant)
	cmd := exec.CommandContext(ctx, t.config.Binary, args...)
	setProcessGroup(cmd)

	// The pipes are ours, not exec's: Wait must never block on a descendant
	// that inherited them.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return apperr.Wrap(apperr.KindExternalTool, op, err, "failed to create stdout pipe")
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return apperr.Wrap(apperr.KindExternalTool, op, err, "failed to create stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return apperr.Wrap(apperr.KindExternalTool, op, err, "failed to start "+t.config.Binary)
	}
	defer stdout.Close()
	defer stderr.Close()

	t.log.Debug().
		Int("pid", cmd.Process.Pid).
		Str("variant", string(variant)).
		Strs("args", args).
		Msg("Started")

	var readers sync.WaitGroup
	readers.Add(2)
	go t.logLines(&readers, stdout, "stdout")
	go t.logLines(&readers, stderr, "stderr")

	outputClosed := make(chan struct{})
	go func() {
		readers.Wait()
		close(outputClosed)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case <-outputClosed:
		select {
		case runErr = <-waitErr:
		case <-time.After(t.config.ExitWait):
			killProcessGroup(cmd)
			<-waitErr
			return apperr.E(apperr.KindExternalTool, op, "process did not exit within %s", t.config.ExitWait)
		}
	case runErr = <-waitErr:
		// Exited, but something it spawned may still hold the output open.
		select {
		case <-outputClosed:
		case <-time.After(t.config.ExitWait):
			killProcessGroup(cmd)
			stdout.Close()
			stderr.Close()
			<-outputClosed
			t.log.Warn().Str("variant", string(variant)).Msg("Output still open after exit, stopped leftover processes")
		}
	}

	if ctx.Err() != nil {
		return apperr.Wrap(apperr.KindExternalTool, op, ctx.Err(), "process did not finish in time")
	}
	if runErr != nil {
		return apperr.Wrap(apperr.KindExternalTool, op, runErr, fmt.Sprintf("%s %s failed", t.config.Binary, variant))
	}

	t.log.Debug().Str("variant", string(variant)).Str("output", output).Msg("Process exited with code 0")
	return nil
}

// buildArgs constructs FFmpeg command arguments for a variant.
func (t *FFmpegTranscoder) buildArgs(input, output string, variant Variant) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-y",
		"-i", input,
		"-ar", fmt.Sprintf("%d", t.config.SampleRate),
	}
	if variant == VariantLowpass {
		args = append(args, "-af", fmt.Sprintf("lowpass=f=%d", t.config.LowpassCutoff))
	}
	return append(args, output)
}

// logLines forwards a process stream to the logger line by line.
func (t *FFmpegTranscoder) logLines(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		t.log.Debug().Str("stream", stream).Msg(sc.Text())
	}
	// Keep draining so the process never blocks on a full pipe.
	io.Copy(io.Discard, r)
}

// Ensure FFmpegTranscoder implements the interface.
var _ Transcoder = (*FFmpegTranscoder)(nil)
