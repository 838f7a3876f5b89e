// Package evidence persists immutable snapshots and report artifacts to
// object storage. Objects are stored under id- and timestamp-derived keys, encrypted
// server-side, and never publicly readable; reads go through signed URLs.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/logger"
)

// ObjectStore is the blob backend. The S3 implementation is the production
// one; tests substitute an in-memory store.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// SignedURLValidity is how long minted read URLs stay valid.
const SignedURLValidity = time.Hour

// Store writes evidence snapshots and report artifacts.
type Store struct {
	objects ObjectStore
	log     logger.Logger
}

// NewStore creates a Store over the given backend.
func NewStore(objects ObjectStore) *Store {
	return &Store{objects: objects, log: logger.New("evidence")}
}

// Available reports whether an object storage backend is configured.
func (s *Store) Available() bool {
	return s != nil && s.objects != nil
}

// EvidenceKey builds the snapshot key for a finding.
func EvidenceKey(findingID int64, at time.Time) string {
	return fmt.Sprintf("evidence/%d/%s.json", findingID, at.UTC().Format(time.RFC3339))
}

// ReportKey builds the artifact key for an organization report.
func ReportKey(organizationID int64, at time.Time, ext string) string {
	return fmt.Sprintf("audit-reports/%d/%s.%s", organizationID, at.UTC().Format(time.RFC3339), ext)
}

// StoreSnapshot writes one evidence snapshot and returns its key.
func (s *Store) StoreSnapshot(ctx context.Context, findingID int64, at time.Time, data map[string]interface{}) (string, error) {
	if !s.Available() {
		return "", errors.New(errors.KindInternal, "object storage not configured")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "encoding evidence snapshot")
	}
	key := EvidenceKey(findingID, at)
	if err := s.objects.Put(ctx, key, body, "application/json"); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "storing evidence snapshot")
	}
	return key, nil
}

// StoreReport writes a report artifact and returns its key.
func (s *Store) StoreReport(ctx context.Context, organizationID int64, at time.Time, ext string, body []byte, contentType string) (string, error) {
	if !s.Available() {
		return "", errors.New(errors.KindInternal, "object storage not configured")
	}
	key := ReportKey(organizationID, at, ext)
	if err := s.objects.Put(ctx, key, body, contentType); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "storing report artifact")
	}
	return key, nil
}

// SignedURL mints a one-hour read URL for a stored object.
func (s *Store) SignedURL(ctx context.Context, key string) (string, error) {
	if !s.Available() {
		return "", errors.New(errors.KindInternal, "object storage not configured")
	}
	url, err := s.objects.PresignGet(ctx, key, SignedURLValidity)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "minting signed URL")
	}
	return url, nil
}
