// Package joblog carries progress and log records from one running job to the
// single consumer streaming them back to a client.
package joblog

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// ErrEnded is returned by Push and End once the end marker has been queued.
var ErrEnded = errors.New("joblog: log already ended")

type Record struct {
	Message string
	Level   Level
	Time    time.Time
}

// Line is the text written to a stream for this record. It never contains
// a newline, so one record is always one line of output.
func (r Record) Line() string {
	msg := lineBreaks.Replace(strings.TrimRight(r.Message, "\r\n"))
	if r.Level == LevelError {
		return "ERROR: " + msg
	}
	return msg
}

var lineBreaks = strings.NewReplacer("\r\n", " | ", "\n", " | ", "\r", " | ")

// Log is an unbounded FIFO of records terminated by exactly one end marker.
// It supports one producer and one consumer.
type Log struct {
	mu       sync.Mutex
	items    []Record
	ended    bool
	detached bool
	dropped  int
	ready    chan struct{}
}

func New() *Log {
	return &Log{ready: make(chan struct{}, 1)}
}

// Push appends r at the tail. A zero Time is set to now.
func (l *Log) Push(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	if r.Level == "" {
		r.Level = LevelInfo
	}

	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return ErrEnded
	}
	if l.detached {
		l.dropped++
		l.mu.Unlock()
		return nil
	}
	l.items = append(l.items, r)
	l.mu.Unlock()

	l.signal()
	return nil
}

func (l *Log) Info(msg string) error  { return l.Push(Record{Message: msg, Level: LevelInfo}) }
func (l *Log) Debug(msg string) error { return l.Push(Record{Message: msg, Level: LevelDebug}) }
func (l *Log) Error(msg string) error { return l.Push(Record{Message: msg, Level: LevelError}) }

// End queues the end marker. Only the first call succeeds.
func (l *Log) End() error {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return ErrEnded
	}
	l.ended = true
	l.mu.Unlock()

	l.signal()
	return nil
}

// Ended reports whether the end marker has been queued.
func (l *Log) Ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}

// Pull removes and returns the head record, blocking until one is available.
// It returns io.EOF once the end marker is reached and ctx.Err() if ctx is done first.
func (l *Log) Pull(ctx context.Context) (Record, error) {
	for {
		l.mu.Lock()
		if len(l.items) > 0 {
			r := l.items[0]
			l.items[0] = Record{}
			l.items = l.items[1:]
			l.mu.Unlock()
			return r, nil
		}
		ended := l.ended
		l.mu.Unlock()
		if ended {
			return Record{}, io.EOF
		}

		select {
		case <-l.ready:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
}

// Detach is called by a consumer that stops draining. Queued records are
// released and later pushes are counted but not retained. End still behaves
// the same, so the producer side is unaffected.
func (l *Log) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detached = true
	l.dropped += len(l.items)
	l.items = nil
}

// Dropped is the number of records discarded after Detach.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Log) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}
