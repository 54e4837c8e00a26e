// Package artifacts keeps the bytes of job artifacts, either in the
// artifact row itself or in an S3 bucket.
package artifacts

import (
	"context"
	"fmt"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/config"
	"fairdatastation/internal/models"
)

// Backend stores and loads artifact bytes for one storage tag.
type Backend interface {
	Storage() models.ArtifactStorage
	// Put stores data for a. Backends that keep bytes in the row set a.Data.
	Put(ctx context.Context, a *models.JobArtifact, data []byte) error
	Get(ctx context.Context, a models.JobArtifact) ([]byte, error)
	// Delete drops bytes stored outside the row. Missing bytes are not an error.
	Delete(ctx context.Context, a models.JobArtifact) error
}

// Store routes artifacts to their backend. New artifacts go to the
// primary backend; existing ones are read from whatever backend their
// storage tag names.
type Store struct {
	primary  Backend
	backends map[models.ArtifactStorage]Backend
}

func NewStore(primary Backend, others ...Backend) *Store {
	s := &Store{primary: primary, backends: make(map[models.ArtifactStorage]Backend)}
	s.backends[primary.Storage()] = primary
	for _, b := range others {
		s.backends[b.Storage()] = b
	}
	return s
}

// Put hashes data, tags a with the primary storage and stores the bytes.
func (s *Store) Put(ctx context.Context, a *models.JobArtifact, data []byte) error {
	a.Hash = models.HashData(data)
	a.Bytesize = int64(len(data))
	a.Storage = s.primary.Storage()
	if err := s.primary.Put(ctx, a, data); err != nil {
		return fmt.Errorf("store artifact %s: %w", a.ID, err)
	}
	return nil
}

// Get loads the bytes of a from its backend.
func (s *Store) Get(ctx context.Context, a models.JobArtifact) ([]byte, error) {
	b, ok := s.backends[a.Storage]
	if !ok {
		return nil, apperr.Execution(nil, "Unsupported artifact storage (%s)", a.Storage)
	}
	return b.Get(ctx, a)
}

// Delete removes the bytes of an artifact whose row was never written.
func (s *Store) Delete(ctx context.Context, a models.JobArtifact) error {
	b, ok := s.backends[a.Storage]
	if !ok {
		return apperr.Execution(nil, "Unsupported artifact storage (%s)", a.Storage)
	}
	return b.Delete(ctx, a)
}

// Postgres keeps the bytes in the artifact row.
type Postgres struct{}

func (Postgres) Storage() models.ArtifactStorage {
	return models.StoragePostgres
}

func (Postgres) Put(_ context.Context, a *models.JobArtifact, data []byte) error {
	a.Data = data
	return nil
}

func (Postgres) Get(_ context.Context, a models.JobArtifact) ([]byte, error) {
	return a.Data, nil
}

// Delete is a no-op: the bytes go away with the row.
func (Postgres) Delete(context.Context, models.JobArtifact) error {
	return nil
}

// FromConfig builds the artifact store. With a bucket configured new
// artifacts go to S3; row-stored artifacts stay readable either way.
func FromConfig(ctx context.Context, cfg config.Config) (*Store, error) {
	if cfg.ArtifactS3Bucket == "" {
		return NewStore(Postgres{}), nil
	}
	s3Backend, err := NewS3(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(s3Backend, Postgres{}), nil
}
