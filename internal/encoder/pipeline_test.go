package encoder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"crowd-radio/internal/metrics"
	"crowd-radio/internal/storage"
)

var testLayout = storage.Layout{
	RecordingsDir: "/data/recordings",
	ConvertedDir:  "/data/converted",
}

func TestNewJob(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		plain   string
		lowpass string
	}{
		{
			name:    "under recordings root",
			source:  "/data/recordings/tok/Bob01.webm",
			plain:   "/data/converted/tok/Bob01.ogg",
			lowpass: "/data/converted/tok/Bob01-lowpass.ogg",
		},
		{
			name:    "outside recordings root",
			source:  "/tmp/in/clip.mp3",
			plain:   "/tmp/in/clip.ogg",
			lowpass: "/tmp/in/clip-lowpass.ogg",
		},
		{
			name:    "sibling with shared prefix",
			source:  "/data/recordings-old/tok/a.wav",
			plain:   "/data/recordings-old/tok/a.ogg",
			lowpass: "/data/recordings-old/tok/a-lowpass.ogg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob(testLayout, tt.source)
			if job.Source != tt.source {
				t.Errorf("source = %s, want %s", job.Source, tt.source)
			}
			if job.Outputs[0] != tt.plain {
				t.Errorf("plain output = %s, want %s", job.Outputs[0], tt.plain)
			}
			if job.Outputs[1] != tt.lowpass {
				t.Errorf("lowpass output = %s, want %s", job.Outputs[1], tt.lowpass)
			}
		})
	}
}

func TestPipeline_ProcessesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockTranscoder(ctrl)
	p := NewPipeline(mock, testLayout, 4, zerolog.Nop(), nil)

	a := NewJob(testLayout, "/data/recordings/tok/A01.webm")
	b := NewJob(testLayout, "/data/recordings/tok/B01.webm")

	gomock.InOrder(
		mock.EXPECT().Transcode(gomock.Any(), a.Source, a.Outputs[0], VariantPlain).Return(nil),
		mock.EXPECT().Transcode(gomock.Any(), a.Source, a.Outputs[1], VariantLowpass).Return(nil),
		mock.EXPECT().Transcode(gomock.Any(), b.Source, b.Outputs[0], VariantPlain).Return(nil),
		mock.EXPECT().Transcode(gomock.Any(), b.Source, b.Outputs[1], VariantLowpass).Return(nil),
	)

	if err := p.Submit(a.Source); err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	if err := p.Submit(b.Source); err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}
	p.Close()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestPipeline_FailureSkipsRemainingVariants(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockTranscoder(ctrl)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := NewPipeline(mock, testLayout, 4, zerolog.Nop(), m)

	a := NewJob(testLayout, "/data/recordings/tok/A01.webm")
	b := NewJob(testLayout, "/data/recordings/tok/B01.webm")

	// A's lowpass is never requested; B still runs.
	gomock.InOrder(
		mock.EXPECT().Transcode(gomock.Any(), a.Source, a.Outputs[0], VariantPlain).Return(errors.New("exit status 1")),
		mock.EXPECT().Transcode(gomock.Any(), b.Source, b.Outputs[0], VariantPlain).Return(nil),
		mock.EXPECT().Transcode(gomock.Any(), b.Source, b.Outputs[1], VariantLowpass).Return(nil),
	)

	p.Submit(a.Source)
	p.Submit(b.Source)
	p.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := testutil.ToFloat64(m.Conversions.WithLabelValues("plain", "error")); got != 1 {
		t.Errorf("plain errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Conversions.WithLabelValues("lowpass", "ok")); got != 1 {
		t.Errorf("lowpass ok = %v, want 1", got)
	}
}

// concurrencyProbe records the highest number of overlapping Transcode calls.
type concurrencyProbe struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
}

func (c *concurrencyProbe) Transcode(ctx context.Context, input, output string, variant Variant) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		old := c.maxSeen.Load()
		if n <= old || c.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	c.calls.Add(1)
	time.Sleep(2 * time.Millisecond)
	return nil
}

func TestPipeline_SingleWorker(t *testing.T) {
	probe := &concurrencyProbe{}
	p := NewPipeline(probe, testLayout, 16, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.Submit(filepath.Join("/data/recordings/tok", string(rune('a'+i))+".webm")); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	p.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if got := probe.calls.Load(); got != 16 {
		t.Errorf("expected 16 transcodes, got %d", got)
	}
	if got := probe.maxSeen.Load(); got != 1 {
		t.Errorf("expected at most 1 concurrent transcode, saw %d", got)
	}
}

func TestPipeline_SubmitQueueFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(NewMockTranscoder(ctrl), testLayout, 1, zerolog.Nop(), m)

	if err := p.Submit("/data/recordings/tok/a.webm"); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := p.Submit("/data/recordings/tok/b.webm"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if p.Pending() != 1 {
		t.Errorf("expected 1 pending job, got %d", p.Pending())
	}
	if got := testutil.ToFloat64(m.ConversionsDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestPipeline_SubmitAfterClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := NewPipeline(NewMockTranscoder(ctrl), testLayout, 1, zerolog.Nop(), nil)

	p.Close()
	p.Close()

	if err := p.Submit("/data/recordings/tok/a.webm"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPipeline_RunCancelledAbandonsPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	// No expectations: any Transcode call fails the test.
	p := NewPipeline(NewMockTranscoder(ctrl), testLayout, 4, zerolog.Nop(), nil)

	p.Submit("/data/recordings/tok/a.webm")
	p.Submit("/data/recordings/tok/b.webm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.Pending() != 2 {
		t.Errorf("expected 2 abandoned jobs, got %d", p.Pending())
	}
}
