// Package storage owns the on-disk layout of raw and converted recordings:
// per-user directories, numbered slot allocation and listing.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crowd-radio/internal/apperr"
	"crowd-radio/internal/identity"
)

const (
	// DefaultMaxSlots bounds slot ordinals to [1, DefaultMaxSlots).
	DefaultMaxSlots = 100
	// DefaultExtension is used when an upload's container cannot be determined.
	DefaultExtension = "ogg"
)

// Layout names the two storage roots. ConvertedDir mirrors RecordingsDir.
type Layout struct {
	RecordingsDir string
	ConvertedDir  string
}

// Store allocates and lists recordings under a Layout.
type Store struct {
	layout   Layout
	maxSlots int
	log      zerolog.Logger
}

// NewStore creates a Store. maxSlots <= 1 falls back to DefaultMaxSlots.
func NewStore(layout Layout, maxSlots int, logger zerolog.Logger) *Store {
	if maxSlots <= 1 {
		maxSlots = DefaultMaxSlots
	}
	return &Store{
		layout:   layout,
		maxSlots: maxSlots,
		log:      logger.With().Str("component", "storage").Logger(),
	}
}

// Layout returns the store's storage roots.
func (s *Store) Layout() Layout {
	return s.layout
}

// UserDir returns the raw recordings directory for a token.
func (s *Store) UserDir(token string) string {
	return filepath.Join(s.layout.RecordingsDir, token)
}

// ConvertedDir returns the converted recordings directory for a token.
func (s *Store) ConvertedDir(token string) string {
	return filepath.Join(s.layout.ConvertedDir, token)
}

// EnsureUserDir creates the identity's directory if it does not exist yet.
func (s *Store) EnsureUserDir(id identity.Identity) (string, error) {
	dir := s.UserDir(id.Token)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.KindStorageUnavailable, "storage.EnsureUserDir", err,
			fmt.Sprintf("could not create user dir %s", dir))
	}
	return dir, nil
}

// SlotName returns the filename for a slot ordinal.
func SlotName(sanitisedName string, ordinal int, ext string) string {
	return fmt.Sprintf("%s%02d.%s", sanitisedName, ordinal, ext)
}

// Allocate returns the path of the first free slot for id with the given
// extension. It does not create the file, so two concurrent callers for the
// same identity may receive the same path; use CreateRecording to claim one.
func (s *Store) Allocate(id identity.Identity, ext string) (string, error) {
	const op = "storage.Allocate"

	dir, err := s.EnsureUserDir(id)
	if err != nil {
		return "", err
	}
	name := id.SanitisedName()
	for i := 1; i < s.maxSlots; i++ {
		candidate := filepath.Join(dir, SlotName(name, i, ext))
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", apperr.Wrap(apperr.KindStorageUnavailable, op, err, "could not stat "+candidate)
		}
	}
	return "", apperr.E(apperr.KindSlotsExhausted, op, "user has run out of available files: %s", id)
}

// CreateRecording allocates a slot and creates its file exclusively. If another
// request claimed the slot between allocation and creation the allocation is
// repeated. The caller owns the returned file.
func (s *Store) CreateRecording(id identity.Identity, ext string) (*os.File, string, error) {
	const op = "storage.CreateRecording"

	for attempt := 1; attempt < s.maxSlots; attempt++ {
		path, err := s.Allocate(id, ext)
		if err != nil {
			return nil, "", err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			s.log.Debug().Str("path", path).Int("attempt", attempt).Msg("Slot claimed concurrently, retrying")
			continue
		}
		if err != nil {
			return nil, "", apperr.Wrap(apperr.KindStorageUnavailable, op, err, "could not create "+path)
		}
		return f, path, nil
	}
	return nil, "", apperr.E(apperr.KindSlotsExhausted, op, "user has run out of available files: %s", id)
}

// ListOwn returns the identity's raw recordings ordered oldest first. Only
// files named {sanitisedName}NN.{ext} are included. A missing directory
// yields an empty slice.
func (s *Store) ListOwn(id identity.Identity) ([]string, error) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(id.SanitisedName()) + `[0-9]{2}\.\w+$`)
	return s.list(s.UserDir(id.Token), pattern)
}

// ListConverted returns the identity's converted variants ordered oldest first.
func (s *Store) ListConverted(id identity.Identity) ([]string, error) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(id.SanitisedName()) + `[0-9]{2}(-lowpass)?\.ogg$`)
	return s.list(s.ConvertedDir(id.Token), pattern)
}

type listedFile struct {
	path    string
	modTime time.Time
}

func (s *Store) list(dir string, pattern *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	files := make([]listedFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !pattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, listedFile{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Recording resolves a raw recording path from request parameters.
func (s *Store) Recording(token, fileName string) (string, error) {
	if err := validateRef("storage.Recording", token, fileName); err != nil {
		return "", err
	}
	return filepath.Join(s.layout.RecordingsDir, token, fileName), nil
}

// Converted resolves a converted recording path from request parameters.
func (s *Store) Converted(token, fileName string) (string, error) {
	if err := validateRef("storage.Converted", token, fileName); err != nil {
		return "", err
	}
	return filepath.Join(s.layout.ConvertedDir, token, fileName), nil
}

// Delete removes one of the identity's raw recordings.
func (s *Store) Delete(id identity.Identity, fileName string) error {
	const op = "storage.Delete"

	path, err := s.Recording(id.Token, fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.Wrap(apperr.KindNotFound, op, err, "recording does not exist")
		}
		return fmt.Errorf("failed to delete recording %s: %w", path, err)
	}
	s.log.Info().Str("path", path).Str("user", id.String()).Msg("Deleted recording")
	return nil
}

// Recordings returns every raw recording under the recordings root, grouped
// by user directory.
func (s *Store) Recordings() ([]string, error) {
	users, err := os.ReadDir(s.layout.RecordingsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings dir: %w", err)
	}

	var paths []string
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		dir := filepath.Join(s.layout.RecordingsDir, u.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}
	return paths, nil
}

func validateRef(op, token, fileName string) error {
	if !identity.ValidToken(token) {
		return apperr.E(apperr.KindInvalidRequest, op, "invalid token %q", token)
	}
	if fileName == "" || strings.HasPrefix(fileName, ".") || strings.ContainsAny(fileName, `/\`) {
		return apperr.E(apperr.KindInvalidRequest, op, "invalid file name %q", fileName)
	}
	return nil
}
