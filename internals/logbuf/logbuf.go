package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one buffered log line.
type Entry struct {
	Level   slog.Level
	Message string
	At      time.Time
	Attrs   []slog.Attr
}

// Buffer collects the log lines of one request so they can be emitted as a
// single record once the request is done.
type Buffer struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	entries []Entry
}

func New(attrs ...slog.Attr) *Buffer {
	return &Buffer{attrs: append([]slog.Attr(nil), attrs...)}
}

// Add attaches attributes to the final record.
func (b *Buffer) Add(attrs ...slog.Attr) {
	if b == nil || len(attrs) == 0 {
		return
	}
	b.mu.Lock()
	b.attrs = append(b.attrs, attrs...)
	b.mu.Unlock()
}

func (b *Buffer) Debug(message string, attrs ...slog.Attr) {
	b.append(slog.LevelDebug, message, attrs)
}

func (b *Buffer) Info(message string, attrs ...slog.Attr) {
	b.append(slog.LevelInfo, message, attrs)
}

func (b *Buffer) Warn(message string, attrs ...slog.Attr) {
	b.append(slog.LevelWarn, message, attrs)
}

func (b *Buffer) Error(message string, attrs ...slog.Attr) {
	b.append(slog.LevelError, message, attrs)
}

// Level is the highest level among the buffered entries, or Info when there
// are none.
func (b *Buffer) Level() slog.Level {
	if b == nil {
		return slog.LevelInfo
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	level := slog.LevelInfo
	for _, entry := range b.entries {
		if entry.Level > level {
			level = entry.Level
		}
	}
	return level
}

// Flush returns the attributes and buffered entries as one group and empties
// the buffer.
func (b *Buffer) Flush() slog.Attr {
	if b == nil {
		return slog.Group("")
	}
	b.mu.Lock()
	entries := b.entries
	b.entries = nil
	args := make([]any, 0, len(b.attrs)+1)
	for _, attr := range b.attrs {
		args = append(args, attr)
	}
	b.mu.Unlock()

	if len(entries) > 0 {
		args = append(args, slog.Any("entries", entriesToPayload(entries)))
	}
	return slog.Group("", args...)
}

func (b *Buffer) append(level slog.Level, message string, attrs []slog.Attr) {
	if b == nil {
		return
	}
	entry := Entry{Level: level, Message: message, At: time.Now()}
	if len(attrs) > 0 {
		entry.Attrs = append(entry.Attrs, attrs...)
	}
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()
}

func entriesToPayload(entries []Entry) []map[string]any {
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"message": entry.Message,
			"level":   entry.Level.String(),
			"at":      entry.At,
		}
		for key, value := range attrsToMap(entry.Attrs) {
			// Reserved keys win over entry attributes.
			if _, exists := item[key]; !exists {
				item[key] = value
			}
		}
		payload = append(payload, item)
	}
	return payload
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	result := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		result[attr.Key] = valueToAny(attr.Value.Resolve())
	}
	return result
}

func valueToAny(value slog.Value) any {
	switch value.Kind() {
	case slog.KindGroup:
		return attrsToMap(value.Group())
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.Any()
	}
}
