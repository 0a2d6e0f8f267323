package station

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"crowd-radio/internal/identity"
	"crowd-radio/internal/metrics"
)

const (
	// MinFrequency is 87.0 MHz in tenths.
	MinFrequency = 870
	// MaxFrequency is 107.0 MHz in tenths, exclusive.
	MaxFrequency = 1070
	// PoolSize is the number of distinct frequencies.
	PoolSize = MaxFrequency - MinFrequency
)

// Allocator hands out one frequency per identity. Resolution is serialized
// process-wide; the repository makes each resolution a single transaction.
type Allocator struct {
	repo    Repository
	intn    func(n int) int
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu sync.Mutex
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithRandom replaces the uniform sampler. intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(a *Allocator) {
		a.intn = intn
	}
}

// WithMetrics records new assignments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// NewAllocator creates a frequency allocator backed by repo.
func NewAllocator(repo Repository, logger zerolog.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		repo: repo,
		intn: rand.Intn,
		log:  logger.With().Str("component", "station").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve returns the identity's frequency, assigning a free one on first use.
// When every sample collides the last sample is accepted, so duplicates are
// only possible once the pool is nearly exhausted.
func (a *Allocator) Resolve(ctx context.Context, id identity.Identity) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, created, err := a.repo.Assign(ctx, id, a.pick)
	if err != nil {
		return 0, err
	}
	if created {
		a.metrics.RecordFrequencyAssignment()
		a.log.Info().
			Str("user", id.String()).
			Int("frequency", rec.Frequency).
			Msg("Assigned station frequency")
	}
	return rec.Frequency, nil
}

func (a *Allocator) pick(assigned map[int]bool) int {
	var f int
	for i := 0; i < PoolSize; i++ {
		f = MinFrequency + a.intn(PoolSize)
		if !assigned[f] {
			return f
		}
	}
	a.log.Warn().Int("frequency", f).Int("assigned", len(assigned)).Msg("Frequency pool nearly exhausted, reusing a frequency")
	return f
}

// FormatMHz renders a frequency in tenths as "98.7".
func FormatMHz(freq int) string {
	return fmt.Sprintf("%d.%d", freq/10, freq%10)
}
