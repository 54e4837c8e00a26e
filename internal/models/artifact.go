package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ArtifactStorage tags where the bytes of an artifact live.
type ArtifactStorage string

const (
	StoragePostgres ArtifactStorage = "POSTGRES"
	StorageS3       ArtifactStorage = "S3"
)

// JobArtifact is one binary result produced by a job.
type JobArtifact struct {
	ID          uuid.UUID       `json:"uuid"`
	JobID       uuid.UUID       `json:"-"`
	DisplayName string          `json:"displayName"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"contentType"`
	Bytesize    int64           `json:"bytesize"`
	Hash        string          `json:"hash"`
	Storage     ArtifactStorage `json:"-"`
	Data        []byte          `json:"-"`
	OccurredAt  time.Time       `json:"occurredAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// HashData returns the hex encoded SHA-256 of data.
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data matches the recorded hash and size.
func (a JobArtifact) Verify(data []byte) bool {
	return int64(len(data)) == a.Bytesize && HashData(data) == a.Hash
}

// ArtifactContent is a result produced by an executor, before it is
// hashed and attached to a job.
type ArtifactContent struct {
	DisplayName string
	Filename    string
	ContentType string
	Data        []byte
}
