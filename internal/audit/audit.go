// Package audit records admit/reject decisions without ever blocking the
// request path.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one access decision.
type Event struct {
	ID            string
	Time          time.Time
	Decision      string // "admit" | "reject"
	PrincipalKind string
	Identity      string
	Reason        string
	Path          string
}

// Sink receives drained events. Sink errors are logged and otherwise ignored.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Logger buffers events on a channel and drains them in the background.
// When the buffer is full the event is dropped and counted, never queued
// synchronously.
type Logger struct {
	ch      chan Event
	sinks   []Sink
	log     *zap.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

const bufferSize = 1024

// New starts a Logger draining into the given sinks.
func New(log *zap.Logger, sinks ...Sink) *Logger {
	l := &Logger{
		ch:    make(chan Event, bufferSize),
		sinks: sinks,
		log:   log,
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Record enqueues the event, filling in ID and Time when absent. It never
// blocks.
func (l *Logger) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (l *Logger) Close() {
	l.once.Do(func() { close(l.ch) })
	l.wg.Wait()
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for ev := range l.ch {
		l.log.Info("access decision",
			zap.String("decision", ev.Decision),
			zap.String("principal", ev.PrincipalKind),
			zap.String("identity", ev.Identity),
			zap.String("reason", ev.Reason),
			zap.String("path", ev.Path),
		)
		for _, sink := range l.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Write(ctx, ev); err != nil {
				l.log.Warn("audit sink write failed", zap.Error(err))
			}
			cancel()
		}
	}
}
