package joblog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// handler forwards slog records into a Log, so code written against a
// *slog.Logger can report into a job without touching the process logger.
type handler struct {
	log    *Log
	min    slog.Level
	attrs  string // preformatted attrs from WithAttrs
	groups []string
}

// Handler returns an slog.Handler writing into l. Records below min are dropped.
// Attributes are appended to the message as key=value pairs.
func Handler(l *Log, min slog.Level) slog.Handler {
	return &handler{log: l, min: min}
}

// Logger is shorthand for slog.New(Handler(l, slog.LevelDebug)).
func Logger(l *Log) *slog.Logger {
	return slog.New(Handler(l, slog.LevelDebug))
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.groups, a)
		return true
	})

	err := h.log.Push(Record{
		Message: b.String(),
		Level:   levelOf(r.Level),
		Time:    r.Time,
	})
	if errors.Is(err, ErrEnded) {
		// Late writes from a finished job are not a caller error.
		return nil
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, h.groups, a)
	}
	next := *h
	next.attrs = b.String()
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func levelOf(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelError:
		return LevelInfo
	default:
		return LevelError
	}
}

func writeAttr(b *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, sub, ga)
		}
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
