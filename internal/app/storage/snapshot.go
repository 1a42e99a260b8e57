package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pxplace/internal/pkg/logx"
)

const (
	// LatestSnapshotKey always holds the most recent upload.
	LatestSnapshotKey = "snapshots/latest.bin"

	snapshotContentType = "application/octet-stream"
)

// SnapshotSource produces the bytes to upload.
type SnapshotSource interface {
	Snapshot() []byte
}

// Snapshotter uploads the canvas on a fixed interval, skipping unchanged boards.
type Snapshotter struct {
	source   SnapshotSource
	store    ObjectStore
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu   sync.Mutex
	last []byte
}

// NewSnapshotter returns a snapshotter uploading source to store every interval.
func NewSnapshotter(source SnapshotSource, store ObjectStore, interval time.Duration) *Snapshotter {
	return &Snapshotter{
		source:   source,
		store:    store,
		interval: interval,
		now:      time.Now,
		logger:   logx.Component("snapshotter"),
	}
}

// Run uploads until ctx is cancelled, with a final upload on the way out.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The parent context is gone; give the last upload its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.Capture(flushCtx); err != nil {
				s.logger.Error().Err(err).Msg("Final snapshot failed")
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := s.Capture(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Snapshot failed")
			}
		}
	}
}

// Capture uploads the board if it changed since the last upload and returns the new key.
// An empty key means nothing was uploaded.
func (s *Snapshotter) Capture(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.source.Snapshot()
	if s.last != nil && bytes.Equal(data, s.last) {
		return "", nil
	}

	key := fmt.Sprintf("snapshots/%d-%s.bin", s.now().Unix(), uuid.NewString())
	if err := s.store.Put(ctx, key, snapshotContentType, data); err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, LatestSnapshotKey, snapshotContentType, data); err != nil {
		return "", err
	}

	s.last = data
	s.logger.Info().Str("key", key).Int("bytes", len(data)).Msg("Canvas snapshot uploaded")
	return key, nil
}
