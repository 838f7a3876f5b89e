package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryObjectStore is the test ObjectStore.
type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memoryObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if _, exists := m.objects[key]; exists {
		return errors.New("object already exists, keys must be unique")
	}
	m.objects[key] = body
	m.types[key] = contentType
	return nil
}

func (m *memoryObjectStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; !exists {
		return "", errors.New("no such key")
	}
	return fmt.Sprintf("https://objects.test/%s?expires=%d", key, int(expires.Seconds())), nil
}

func TestEvidenceKeyLayout(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "evidence/42/2026-03-01T12:30:00Z.json", EvidenceKey(42, at))
	assert.Equal(t, "audit-reports/7/2026-03-01T12:30:00Z.pdf", ReportKey(7, at, "pdf"))
}

func TestStoreSnapshot(t *testing.T) {
	objects := newMemoryObjectStore()
	s := NewStore(objects)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key, err := s.StoreSnapshot(context.Background(), 42, at, map[string]interface{}{
		"before": map[string]interface{}{"blocked": false},
		"after":  map[string]interface{}{"blocked": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "evidence/42/2026-03-01T12:00:00Z.json", key)
	assert.Equal(t, "application/json", objects.types[key])
	assert.Contains(t, string(objects.objects[key]), `"blocked":true`)
}

func TestStoreReportAndSignedURL(t *testing.T) {
	objects := newMemoryObjectStore()
	s := NewStore(objects)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key, err := s.StoreReport(context.Background(), 7, at, "json", []byte(`{}`), "application/json")
	require.NoError(t, err)

	url, err := s.SignedURL(context.Background(), key)
	require.NoError(t, err)
	assert.Contains(t, url, key)
	assert.Contains(t, url, "3600", "signed URLs carry the one-hour validity")
}

func TestStoreUnavailable(t *testing.T) {
	var s *Store
	assert.False(t, s.Available())
	assert.False(t, NewStore(nil).Available())

	_, err := NewStore(nil).StoreSnapshot(context.Background(), 1, time.Now(), nil)
	assert.Error(t, err)
}

func TestStorePutFailure(t *testing.T) {
	objects := newMemoryObjectStore()
	objects.putErr = errors.New("bucket unreachable")
	s := NewStore(objects)

	_, err := s.StoreSnapshot(context.Background(), 1, time.Now(), map[string]interface{}{})
	assert.Error(t, err)
}
