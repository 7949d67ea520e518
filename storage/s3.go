// Package storage implements document-snapshot archival (spec §9's
// ambient durability layer, outside the in-memory-retention non-goal
// that bounds operation-log replay, not coarse snapshotting): every N
// applied operations, the coordinator pushes a full-content snapshot to
// S3, adapted from the teacher's storage/s3.go ("save canvas to S3").
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Snapshot is the archived unit: one session's content at a point in
// time, keyed by version.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Version   int64     `json:"version"`
	Content   string    `json:"content"`
	Checksum  string    `json:"checksum"`
	SavedAt   time.Time `json:"saved_at"`
}

// S3Client archives session snapshots to S3, mirroring the teacher's
// S3Client shape (session.NewSession + s3.New).
type S3Client struct {
	client *s3.S3
	bucket string
}

// NewS3Client dials an S3 client for region/bucket.
func NewS3Client(region, bucket string) (*S3Client, error) {
	sess, err := awssession.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	return &S3Client{
		client: s3.New(sess),
		bucket: bucket,
	}, nil
}

// SaveSnapshot archives content as the given session's snapshot at
// version, keyed by session id and version so history is retrievable.
func (s *S3Client) SaveSnapshot(sessionID string, version int64, content string) (*Snapshot, error) {
	sum := sha256.Sum256([]byte(content))
	snap := &Snapshot{
		SessionID: sessionID,
		Version:   version,
		Content:   content,
		Checksum:  hex.EncodeToString(sum[:])[:32],
		SavedAt:   time.Now(),
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("sessions/%s/v%d.json", sessionID, version)
	_, err = s.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("put snapshot %s: %w", key, err)
	}

	return snap, nil
}

// LoadSnapshot fetches a previously archived snapshot.
func (s *S3Client) LoadSnapshot(sessionID string, version int64) (*Snapshot, error) {
	key := fmt.Sprintf("sessions/%s/v%d.json", sessionID, version)
	out, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(out.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
