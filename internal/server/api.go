package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crowd-radio/internal/apperr"
	"crowd-radio/internal/identity"
	"crowd-radio/internal/metrics"
	"crowd-radio/internal/station"
	"crowd-radio/internal/storage"
	"crowd-radio/internal/stream"
)

// Converter accepts stored recordings for background conversion.
type Converter interface {
	Submit(source string) error
}

// FrequencyResolver returns an identity's station frequency.
type FrequencyResolver interface {
	Resolve(ctx context.Context, id identity.Identity) (int, error)
}

// StationLister lists every station with its converted files.
type StationLister interface {
	List(ctx context.Context) ([]station.Listing, error)
}

// Deps are the collaborators an API needs.
type Deps struct {
	Store       *storage.Store
	Streamer    *stream.Streamer
	Converter   Converter
	Frequencies FrequencyResolver
	Stations    StationLister
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Options holds request limits and credentials.
type Options struct {
	MaxUploadBytes int64
	RadioUsername  string
	RadioPassword  string
}

// API handles the recording and radio endpoints.
type API struct {
	store       *storage.Store
	streamer    *stream.Streamer
	converter   Converter
	frequencies FrequencyResolver
	stations    StationLister
	metrics     *metrics.Metrics
	log         zerolog.Logger
	opts        Options
}

// NewAPI creates a new API handler.
func NewAPI(deps Deps, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = storage.DefaultMaxUploadBytes
	}
	return &API{
		store:       deps.Store,
		streamer:    deps.Streamer,
		converter:   deps.Converter,
		frequencies: deps.Frequencies,
		stations:    deps.Stations,
		metrics:     deps.Metrics,
		log:         deps.Logger.With().Str("component", "api").Logger(),
		opts:        opts,
	}
}

// RecordingFile is a recording path with the MD5 of its contents.
type RecordingFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Upload stores the request body in the caller's next free slot and queues
// it for conversion.
func (a *API) Upload(c *gin.Context) {
	const op = "server.Upload"

	id, err := identity.FromBearer(c.GetHeader("Authorization"))
	if err != nil {
		a.metrics.RecordUpload("rejected", 0)
		a.fail(c, err)
		return
	}

	contentType := c.GetHeader("Content-Type")
	ext, ok := storage.ExtensionFor(contentType)
	if !ok {
		a.log.Warn().Str("content_type", contentType).Msg("Unrecognised content type, defaulting to ." + ext)
	}

	a.log.Info().
		Str("user", id.String()).
		Str("content_type", contentType).
		Str("content_length", c.GetHeader("Content-Length")).
		Msg("Upload")

	if _, err := a.frequencies.Resolve(c.Request.Context(), id); err != nil {
		a.metrics.RecordUpload("error", 0)
		a.fail(c, err)
		return
	}

	f, path, err := a.store.CreateRecording(id, ext)
	if err != nil {
		a.metrics.RecordUpload("error", 0)
		a.fail(c, err)
		return
	}

	n, truncated, err := storage.WriteLimited(f, c.Request.Body, a.opts.MaxUploadBytes)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.metrics.RecordUpload("error", n)
		a.fail(c, apperr.Wrap(apperr.KindStorageUnavailable, op, err, "failed writing "+path))
		return
	}

	result := "ok"
	if truncated {
		result = "truncated"
		a.log.Warn().Str("path", path).Int64("limit", a.opts.MaxUploadBytes).Msg("Upload exceeded maximum size, keeping what was written")
	}
	a.metrics.RecordUpload(result, n)
	a.log.Info().Str("path", path).Int64("bytes", n).Msg("Stored recording")

	if err := a.converter.Submit(path); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Recording not queued for conversion")
	}

	c.Header("Location", playbackPath(id.Token, filepath.Base(path)))
	c.Status(http.StatusOK)
}

// ListOwn returns the caller's recordings as playback paths, oldest first.
func (a *API) ListOwn(c *gin.Context) {
	id, paths, ok := a.ownRecordings(c)
	if !ok {
		return
	}

	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = playbackPath(id.Token, filepath.Base(p))
	}
	c.JSON(http.StatusOK, out)
}

// ListOwnHashes returns the caller's recordings with content hashes, oldest
// first.
func (a *API) ListOwnHashes(c *gin.Context) {
	id, paths, ok := a.ownRecordings(c)
	if !ok {
		return
	}

	out := make([]RecordingFile, 0, len(paths))
	for _, p := range paths {
		hash, err := storage.HashFile(p)
		if err != nil {
			a.fail(c, err)
			return
		}
		out = append(out, RecordingFile{Path: playbackPath(id.Token, filepath.Base(p)), Hash: hash})
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) ownRecordings(c *gin.Context) (identity.Identity, []string, bool) {
	const op = "server.ownRecordings"

	id, err := identity.FromBearer(c.GetHeader("Authorization"))
	if err != nil {
		a.fail(c, err)
		return id, nil, false
	}

	paths, err := a.store.ListOwn(id)
	if err != nil {
		a.fail(c, err)
		return id, nil, false
	}
	if len(paths) == 0 {
		a.fail(c, apperr.E(apperr.KindNotFound, op, "no recordings for %s", id))
		return id, nil, false
	}
	return id, paths, true
}

// PlayRecording streams one raw recording.
func (a *API) PlayRecording(c *gin.Context) {
	path, err := a.store.Recording(c.Param("token"), c.Param("file"))
	if err != nil {
		a.fail(c, err)
		return
	}
	a.serve(c, path)
}

// PlayConverted streams one converted recording.
func (a *API) PlayConverted(c *gin.Context) {
	path, err := a.store.Converted(c.Param("token"), c.Param("file"))
	if err != nil {
		a.fail(c, err)
		return
	}
	a.serve(c, path)
}

func (a *API) serve(c *gin.Context, path string) {
	if err := a.streamer.Serve(c.Writer, c.Request, path); err != nil {
		a.metrics.RecordStream(http.StatusNotFound)
		a.fail(c, err)
	}
}

// Delete removes one of the caller's recordings.
func (a *API) Delete(c *gin.Context) {
	const op = "server.Delete"

	id, err := identity.FromBearer(c.GetHeader("Authorization"))
	if err != nil {
		a.fail(c, err)
		return
	}

	if token := c.Param("token"); token != id.Token {
		a.fail(c, apperr.E(apperr.KindInvalidRequest, op, "recording token %q does not match user %s", token, id))
		return
	}

	if err := a.store.Delete(id, c.Param("file")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Stations returns every station for radio clients. Requires basic auth.
func (a *API) Stations(c *gin.Context) {
	if err := a.checkRadioAuth(c.Request); err != nil {
		a.fail(c, err)
		return
	}

	listings, err := a.stations.List(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

// Health reports that the server is up.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) checkRadioAuth(r *http.Request) error {
	const op = "server.checkRadioAuth"

	user, pass, ok := r.BasicAuth()
	if !ok {
		return apperr.E(apperr.KindInvalidRequest, op, "missing basic auth")
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.opts.RadioUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.opts.RadioPassword)) == 1
	if !userOK || !passOK || a.opts.RadioPassword == "" {
		return apperr.E(apperr.KindInvalidRequest, op, "incorrect basic auth for user %q", user)
	}
	return nil
}

// fail logs err and answers 404 with no body, whatever the cause.
func (a *API) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)

	ev := a.log.Warn()
	if kind == apperr.KindUnknown || kind == apperr.KindStorageUnavailable {
		ev = a.log.Error()
	}
	ev.Err(err).
		Str("kind", kind.String()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("Request failed")

	c.AbortWithStatus(http.StatusNotFound)
}

func playbackPath(token, fileName string) string {
	return "/audio/" + token + "/" + url.PathEscape(fileName)
}
