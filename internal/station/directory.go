package station

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"crowd-radio/internal/storage"
)

// File is a converted recording as published to radio clients. Path is
// relative to the converted root, always slash-separated.
type File struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Listing is one station with its converted recordings, oldest first.
type Listing struct {
	Name      string `json:"name"`
	Token     string `json:"token"`
	Frequency int    `json:"frequency"`
	Files     []File `json:"files"`
}

// Directory joins station records with the converted files on disk.
type Directory struct {
	repo  Repository
	store *storage.Store
}

// NewDirectory creates a station directory.
func NewDirectory(repo Repository, store *storage.Store) *Directory {
	return &Directory{repo: repo, store: store}
}

// List returns every known station. Only converted variants matching the
// station's sanitised name are included.
func (d *Directory) List(ctx context.Context) ([]Listing, error) {
	records, err := d.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(records))
	for _, rec := range records {
		paths, err := d.store.ListConverted(rec.Identity())
		if err != nil {
			return nil, err
		}

		files := make([]File, 0, len(paths))
		for _, p := range paths {
			hash, err := storage.HashFile(p)
			if err != nil {
				return nil, fmt.Errorf("failed to hash station file: %w", err)
			}
			files = append(files, File{
				Path: path.Join(rec.Token, filepath.Base(p)),
				Hash: hash,
			})
		}

		listings = append(listings, Listing{
			Name:      rec.Name,
			Token:     rec.Token,
			Frequency: rec.Frequency,
			Files:     files,
		})
	}
	return listings, nil
}
