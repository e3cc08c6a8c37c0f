// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/gate"
)

const (
	// DefaultQueueSize is the number of decisions buffered ahead of the writer.
	DefaultQueueSize = 1024

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second
)

// LogConfig configures a Log.
type LogConfig struct {
	// Store receives the records. Required.
	Store Store

	// QueueSize bounds the number of pending records. Default: 1024.
	QueueSize int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Log is an asynchronous gate.Recorder. Record never blocks: when the
// queue is full the decision is dropped and counted.
type Log struct {
	store  Store
	queue  chan Record
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ gate.Recorder = (*Log)(nil)

// NewLog starts the background writer.
func NewLog(cfg *LogConfig) (*Log, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Log{
		store:  cfg.Store,
		queue:  make(chan Record, size),
		done:   make(chan struct{}),
		logger: logger.With("component", "audit"),
	}
	go l.run()
	return l, nil
}

// Record implements gate.Recorder.
func (l *Log) Record(d gate.Decision) {
	rec := NewRecord(d)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- rec:
	default:
		if l.dropped.Add(1) == 1 {
			l.logger.Warn("audit queue full, dropping decisions")
		}
	}
}

func (l *Log) run() {
	defer close(l.done)
	for rec := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.store.Insert(ctx, rec)
		cancel()
		if err != nil {
			l.failed.Add(1)
			l.logger.Error("audit write failed", "host", rec.Host, "error", err)
			continue
		}
		l.written.Add(1)
	}
}

// Stats returns the number of records written, dropped and failed.
func (l *Log) Stats() (written, dropped, failed uint64) {
	return l.written.Load(), l.dropped.Load(), l.failed.Load()
}

// Close stops accepting decisions and waits for the queue to drain or ctx
// to end. Close is idempotent.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		written, dropped, failed := l.Stats()
		l.logger.Debug("audit log closed", "written", written, "dropped", dropped, "failed", failed)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
