package handlers

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/storage"
)

// Namer returns the object path for the seq-th capture, counted from 1.
type Namer func(seq int) string

// SequentialNames yields prefix0001ext, prefix0002ext and so on.
func SequentialNames(prefix, ext string) Namer {
	return func(seq int) string { return fmt.Sprintf("%s%04d%s", prefix, seq, ext) }
}

// UUIDNames yields a random name per capture.
func UUIDNames(prefix, ext string) Namer {
	return func(int) string { return prefix + uuid.NewString() + ext }
}

// Store accumulates each capture in memory and uploads it to a storage
// backend in PostProcess.
type Store struct {
	buf   *InMemory
	st    storage.Storage
	name  Namer
	retry resilience.RetryConfig
	ctx   context.Context
	log   *logger.Logger

	mu   sync.Mutex
	seq  int
	keys []string
	size int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetry sets the upload retry policy.
func WithRetry(cfg resilience.RetryConfig) StoreOption {
	return func(s *Store) { s.retry = cfg }
}

// WithStoreManipulator transforms each capture before upload.
func WithStoreManipulator(fn Manipulator) StoreOption {
	return func(s *Store) { s.buf.manipulate = fn }
}

func WithStoreLogger(log *logger.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore uploads to st under names from namer. ctx bounds every upload.
func NewStore(ctx context.Context, st storage.Storage, namer Namer, opts ...StoreOption) *Store {
	s := &Store{
		buf:   NewInMemory(),
		st:    st,
		name:  namer,
		retry: resilience.DefaultRetryConfig(),
		ctx:   ctx,
		log:   logger.Get("handlers"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Process(data []byte) error { return s.buf.Process(data) }

// PostProcess uploads the capture and starts a new one.
func (s *Store) PostProcess() error {
	if err := s.buf.PostProcess(); err != nil {
		return err
	}
	data := s.buf.Bytes()
	s.buf.Reset()

	s.mu.Lock()
	s.seq++
	key := s.name(s.seq)
	s.mu.Unlock()

	retry := s.retry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.log.Warn("upload failed, retrying", logger.MergeWithError(
			logger.Fields("path", key, "attempt", attempt, "wait", wait.String()), err))
	}
	err := resilience.RetryFunc(s.ctx, retry, func() error {
		return s.st.Upload(s.ctx, key, bytes.NewReader(data))
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.size += len(data)
	s.mu.Unlock()
	s.log.Debug("capture stored", logger.Fields("path", key, "bytes", len(data)))
	return nil
}

// Keys returns the paths uploaded so far.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Size returns the number of bytes uploaded so far.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close drops a capture that never completed.
func (s *Store) Close() error { return s.buf.Close() }
