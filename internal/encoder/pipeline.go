package encoder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crowd-radio/internal/metrics"
	"crowd-radio/internal/storage"
)

var (
	// ErrQueueFull is returned by Submit when the pending queue is at capacity.
	ErrQueueFull = errors.New("conversion queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("conversion pipeline is closed")
)

// Pipeline converts submitted recordings one at a time, in submission order.
// Submit never blocks the caller.
type Pipeline struct {
	transcoder Transcoder
	layout     storage.Layout
	jobs       chan Job
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPipeline creates a pipeline. queueSize bounds the number of pending jobs.
func NewPipeline(t Transcoder, layout storage.Layout, queueSize int, logger zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}
	return &Pipeline{
		transcoder: t,
		layout:     layout,
		jobs:       make(chan Job, queueSize),
		metrics:    m,
		log:        logger.With().Str("component", "pipeline").Logger(),
	}
}

// Submit enqueues source for conversion and returns immediately.
func (p *Pipeline) Submit(source string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	job := NewJob(p.layout, source)
	select {
	case p.jobs <- job:
		p.metrics.SetQueueLength(len(p.jobs))
		p.log.Debug().Str("source", source).Int("pending", len(p.jobs)).Msg("Queued conversion")
		return nil
	default:
		p.log.Warn().Str("source", source).Msg("Conversion queue full, dropping job")
		p.metrics.RecordDroppedConversion()
		return ErrQueueFull
	}
}

// Close stops accepting jobs. Run returns once the remaining jobs are done.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// Pending returns the number of queued jobs.
func (p *Pipeline) Pending() int {
	return len(p.jobs)
}

// Run processes jobs until ctx is cancelled or the pipeline is closed and
// drained. Jobs still queued on cancellation are abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info().Msg("Conversion worker started")
	defer p.log.Info().Msg("Conversion worker stopped")

	for {
		if ctx.Err() != nil {
			p.abandon()
			return nil
		}

		select {
		case <-ctx.Done():
			p.abandon()
			return nil
		case job, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.metrics.SetQueueLength(len(p.jobs))
			p.process(ctx, job)
		}
	}
}

func (p *Pipeline) abandon() {
	if n := len(p.jobs); n > 0 {
		p.log.Warn().Int("abandoned", n).Msg("Shutting down with pending conversions")
	}
}

// process produces every variant of a job. The first failure abandons the
// remaining variants of that job only.
func (p *Pipeline) process(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveConversion(time.Since(start).Seconds())
	}()

	for i, variant := range Variants {
		err := p.transcoder.Transcode(ctx, job.Source, job.Outputs[i], variant)
		p.metrics.RecordConversion(string(variant), err)

		if err != nil {
			p.log.Error().
				Err(err).
				Str("source", job.Source).
				Str("variant", string(variant)).
				Msg("Conversion failed")
			return
		}
		p.log.Info().
			Str("source", job.Source).
			Str("output", job.Outputs[i]).
			Str("variant", string(variant)).
			Msg("Converted")
	}
}
