// Package notify defines the notification sink used to report intent outcomes
// and a few sinks: structured logging, an in-memory ring buffer for pollers,
// and fan-out to several sinks.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier receives user-facing notifications. Calls are fire-and-forget and
// must not block for long.
type Notifier interface {
	Info(text string)
	Success(text string)
	Error(text, detail string)
}

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one recorded notification.
type Notification struct {
	Seq    uint64    `json:"seq"`
	Level  Level     `json:"level"`
	Text   string    `json:"text"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Log writes notifications to slog.
type Log struct{}

func (Log) Info(text string)    { slog.Info(text, "notification", LevelInfo) }
func (Log) Success(text string) { slog.Info(text, "notification", LevelSuccess) }
func (Log) Error(text, detail string) {
	slog.Error(text, "notification", LevelError, "detail", detail)
}

// Multi fans a notification out to every sink in order.
type Multi []Notifier

func (m Multi) Info(text string) {
	for _, n := range m {
		n.Info(text)
	}
}

func (m Multi) Success(text string) {
	for _, n := range m {
		n.Success(text)
	}
}

func (m Multi) Error(text, detail string) {
	for _, n := range m {
		n.Error(text, detail)
	}
}

// DefaultBufferSize is used when NewBuffer gets a non-positive size.
const DefaultBufferSize = 200

// Buffer keeps the most recent notifications in a fixed-size ring.
// Sequence numbers start at 1 and increase monotonically.
type Buffer struct {
	mu    sync.RWMutex
	items []Notification
	start int
	count int
	seq   uint64
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{items: make([]Notification, size)}
}

func (b *Buffer) Info(text string)          { b.add(LevelInfo, text, "") }
func (b *Buffer) Success(text string)       { b.add(LevelSuccess, text, "") }
func (b *Buffer) Error(text, detail string) { b.add(LevelError, text, detail) }

func (b *Buffer) add(level Level, text, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	n := Notification{Seq: b.seq, Level: level, Text: text, Detail: detail, At: time.Now().UTC()}
	size := len(b.items)
	if b.count < size {
		b.items[(b.start+b.count)%size] = n
		b.count++
		return
	}
	b.items[b.start] = n
	b.start = (b.start + 1) % size
}

// Since returns the retained notifications with Seq > seq, oldest first.
func (b *Buffer) Since(seq uint64) []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notification, 0, b.count)
	size := len(b.items)
	for i := 0; i < b.count; i++ {
		n := b.items[(b.start+i)%size]
		if n.Seq > seq {
			out = append(out, n)
		}
	}
	return out
}

// Last returns the sequence number of the newest notification, 0 if none.
func (b *Buffer) Last() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}
