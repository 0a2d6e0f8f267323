// Package stream serves stored audio files over HTTP, either whole or as a
// single inclusive byte range.
package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"crowd-radio/internal/apperr"
	"crowd-radio/internal/metrics"
)

// DefaultMaxSize is the largest file served in one response.
const DefaultMaxSize int64 = math.MaxInt32

const chunkSize = 32 * 1024

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d+)$`)

// Range is an inclusive byte range as requested by the client.
type Range struct {
	From int64
	To   int64
}

// ParseRange parses a "bytes=<from>-<to>" header. Both bounds are required
// and From must not exceed To; anything else reports ok=false.
func ParseRange(header string) (r Range, ok bool) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return Range{}, false
	}
	from, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Range{}, false
	}
	to, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || from > to {
		return Range{}, false
	}
	return Range{From: from, To: to}, true
}

// Plan describes the response for one file and Range header.
type Plan struct {
	Status int
	Offset int64
	Length int64
	Size   int64
}

// ContentRange returns the Content-Range header value, or "" for a full
// response.
func (p Plan) ContentRange() string {
	switch p.Status {
	case http.StatusPartialContent:
		return fmt.Sprintf("bytes %d-%d/%d", p.Offset, p.Offset+p.Length-1, p.Size)
	case http.StatusRequestedRangeNotSatisfiable:
		return fmt.Sprintf("bytes */%d", p.Size)
	}
	return ""
}

// NewPlan decides what to send for a file of the given size. Ranges
// extending past the end are capped at the end of the file.
func NewPlan(size int64, rangeHeader string) Plan {
	r, ok := ParseRange(rangeHeader)
	if !ok {
		return Plan{Status: http.StatusOK, Length: size, Size: size}
	}
	if r.From >= size {
		return Plan{Status: http.StatusRequestedRangeNotSatisfiable, Offset: r.From, Size: size}
	}
	return Plan{
		Status: http.StatusPartialContent,
		Offset: r.From,
		Length: min(r.To-r.From+1, size-r.From),
		Size:   size,
	}
}

// Streamer writes stored files to HTTP responses.
type Streamer struct {
	maxSize int64
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewStreamer creates a streamer. A maxSize of zero or less means
// DefaultMaxSize.
func NewStreamer(maxSize int64, logger zerolog.Logger, m *metrics.Metrics) *Streamer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Streamer{
		maxSize: maxSize,
		metrics: m,
		log:     logger.With().Str("component", "stream").Logger(),
	}
}

// Serve writes the file at path to w, honouring r's Range header. Errors are
// returned before any byte of the response is written. A client that goes
// away mid-body is not an error.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, path string) error {
	const op = "stream.Serve"

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.E(apperr.KindNotFound, op, "recording file does not exist: %s", path)
		}
		return apperr.Wrap(apperr.KindNotFound, op, err, "could not open recording")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, op, err, "could not stat recording")
	}
	if !info.Mode().IsRegular() {
		return apperr.E(apperr.KindNotFound, op, "not a regular file: %s", path)
	}
	if info.Size() > s.maxSize {
		return apperr.E(apperr.KindFileTooLarge, op, "file of %d bytes exceeds limit of %d", info.Size(), s.maxSize)
	}

	plan := NewPlan(info.Size(), r.Header.Get("Range"))

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(path))
	if cr := plan.ContentRange(); cr != "" {
		h.Set("Content-Range", cr)
	}
	h.Set("Content-Length", strconv.FormatInt(plan.Length, 10))
	w.WriteHeader(plan.Status)
	s.metrics.RecordStream(plan.Status)

	if plan.Length == 0 || r.Method == http.MethodHead {
		return nil
	}

	written, err := s.copy(w, io.NewSectionReader(f, plan.Offset, plan.Length))
	if err != nil {
		var we *writeError
		if errors.As(err, &we) {
			s.log.Debug().
				Err(we.err).
				Str("path", path).
				Int64("written", written).
				Int64("length", plan.Length).
				Msg("Client disconnected")
			return nil
		}
		// Headers are already sent; nothing useful can reach the client.
		s.log.Error().Err(err).Str("path", path).Msg("Failed to read recording")
		return nil
	}
	return nil
}

// writeError marks a failure on the client side of the copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// copy moves src to w, telling read failures from write failures.
func (s *Streamer) copy(w io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, &writeError{err: werr}
			}
			if m < n {
				return written, &writeError{err: io.ErrShortWrite}
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if len(ext) > 1 {
		return "audio/" + ext[1:]
	}
	return "application/octet-stream"
}
