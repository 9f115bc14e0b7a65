package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler writes one line per record for a terminal:
//
//	12:04:05.120 WARN  auth.refresh.fail status=401 bound=203.0.113.5/32 correlation_id=01J...
//
// The first segment of the dotted event name picks its color. Attributes
// attached with WithAttrs are rendered once and reused.
type prettyHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	source bool
	color  bool

	prefix string // open groups, dot-terminated
	attrs  string // pre-rendered WithAttrs output
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{mu: &sync.Mutex{}, w: w, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(eventName(r.Message, h.color))

	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.prefix, a)
		return true
	})

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString(paint(fmt.Sprintf("(%s:%d)", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		h.writeAttr(&b, h.prefix, a)
	}
	cp := *h
	cp.attrs = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}

	key, val := h.styleAttr(a.Key, a.Value)
	b.WriteByte(' ')
	b.WriteString(paint(prefix+key, ansiDim, h.color))
	b.WriteByte('=')
	b.WriteString(val)
}

// styleAttr picks the rendering by the attribute's own key, so grouped
// attributes style the same as top-level ones.
func (h *prettyHandler) styleAttr(key string, v slog.Value) (string, string) {
	switch key {
	case "method":
		return key, colorizeHTTPMethod(strings.ToUpper(v.String()), h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return key, colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return key, colorizeStatusClass(v.String(), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return "took", colorizeDurationMS(n, h.color)
		}
	case "result":
		return key, colorizeResult(strings.ToLower(v.String()), h.color)
	case "err", "error":
		return key, paint(quoteIfNeeded(plainValue(v)), ansiRed, h.color)
	case "correlation_id":
		return key, paint(plainValue(v), ansiMagenta+ansiBright, h.color)
	case "bound", "client", "remote", "addr":
		return key, paint(quoteIfNeeded(plainValue(v)), ansiCyan, h.color)
	case "user_id", "username":
		return key, paint(quoteIfNeeded(plainValue(v)), ansiBright, h.color)
	}
	return key, quoteIfNeeded(plainValue(v))
}

// eventName colors the namespace of a dotted event (auth.login.fail) and
// bolds the rest. Free-form messages are bolded whole.
func eventName(msg string, color bool) string {
	ns, rest, dotted := strings.Cut(msg, ".")
	if !dotted || strings.ContainsAny(msg, " \t") {
		return paint(quoteIfNeeded(msg), ansiBright, color)
	}
	return paint(ns, namespaceColor(ns), color) + paint("."+rest, ansiBright, color)
}

func namespaceColor(ns string) string {
	switch ns {
	case "auth":
		return ansiCyan
	case "http":
		return ansiBlue
	case "db", "store", "readyz":
		return ansiMagenta
	case "server":
		return ansiGreen
	default:
		return ansiBright
	}
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERROR", ansiRed+ansiBright, color)
	case level >= slog.LevelWarn:
		return paint("WARN ", ansiYellow, color)
	case level >= slog.LevelInfo:
		return paint("INFO ", ansiBlue, color)
	default:
		return paint("DEBUG", ansiMagenta, color)
	}
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
