package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	defaultAsyncQueueSize = 1024
)

// AsyncConfig configures the async logger wrapper. Runners log per processed job, so busy
// workers can hand entries to a queue instead of blocking on the writer.
type AsyncConfig struct {
	Enabled      bool
	QueueSize    int
	WorkerCount  int
	DropWhenFull bool
}

type asyncLevel int

const (
	asyncDebug asyncLevel = iota
	asyncInfo
	asyncWarn
	asyncError
)

type asyncEntry struct {
	base  Logger
	level asyncLevel
	msg   string
	args  []any
}

type asyncDispatcher struct {
	entries      chan asyncEntry
	dropWhenFull bool
	dropped      atomic.Int64
	wg           sync.WaitGroup
	stopOnce     sync.Once
	stopped      atomic.Bool
	mu           sync.RWMutex
}

// AsyncLogger queues log entries and writes them through worker goroutines.
type AsyncLogger struct {
	base       Logger
	dispatcher *asyncDispatcher
}

// WrapAsync wraps a logger with async dispatch when enabled, otherwise returns base.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultAsyncQueueSize
	}
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	dispatcher := &asyncDispatcher{
		entries:      make(chan asyncEntry, queueSize),
		dropWhenFull: cfg.DropWhenFull,
	}
	for i := 0; i < workerCount; i++ {
		dispatcher.wg.Add(1)
		go func() {
			defer dispatcher.wg.Done()
			for entry := range dispatcher.entries {
				write(entry.base, entry.level, entry.msg, entry.args)
			}
		}()
	}

	return &AsyncLogger{
		base:       base,
		dispatcher: dispatcher,
	}
}

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(asyncDebug, msg, args) }
func (l *AsyncLogger) Info(msg string, args ...any)  { l.enqueue(asyncInfo, msg, args) }
func (l *AsyncLogger) Warn(msg string, args ...any)  { l.enqueue(asyncWarn, msg, args) }
func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(asyncError, msg, args) }

// With returns a new logger with additional fields sharing the same queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{
		base:       l.base.With(args...),
		dispatcher: l.dispatcher,
	}
}

// WithContext returns a new logger carrying the ids in ctx, sharing the same queue.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{
		base:       l.base.WithContext(ctx),
		dispatcher: l.dispatcher,
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *AsyncLogger) Dropped() int64 {
	return l.dispatcher.dropped.Load()
}

// Close drains the queue, stops the workers and syncs the wrapped logger when it supports it.
// Entries logged after Close are written synchronously.
func (l *AsyncLogger) Close() error {
	l.dispatcher.stop()
	if syncer, ok := l.base.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

func (l *AsyncLogger) enqueue(level asyncLevel, msg string, args []any) {
	l.dispatcher.mu.RLock()
	defer l.dispatcher.mu.RUnlock()

	if l.dispatcher.stopped.Load() {
		write(l.base, level, msg, args)
		return
	}

	entry := asyncEntry{base: l.base, level: level, msg: msg, args: args}
	if l.dispatcher.dropWhenFull {
		select {
		case l.dispatcher.entries <- entry:
		default:
			l.dispatcher.dropped.Add(1)
		}
		return
	}
	l.dispatcher.entries <- entry
}

func write(base Logger, level asyncLevel, msg string, args []any) {
	switch level {
	case asyncDebug:
		base.Debug(msg, args...)
	case asyncInfo:
		base.Info(msg, args...)
	case asyncWarn:
		base.Warn(msg, args...)
	case asyncError:
		base.Error(msg, args...)
	}
}

func (d *asyncDispatcher) stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped.Store(true)
		close(d.entries)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
