package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Truncate keeps the tail of s so that it fits in limit bytes, marking the
// cut with "...".
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return Tail(s, limit-3)
}

// Tail returns the last n bytes of s, prefixed with "..." when cut.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}

// List renders items as a bulleted list under title.
func List(title string, items []string) string {
	var b strings.Builder
	b.WriteString(title)
	if len(items) == 0 {
		b.WriteString("\n  (none)")
		return b.String()
	}
	for _, it := range items {
		b.WriteString("\n  • ")
		b.WriteString(it)
	}
	return b.String()
}

// FileSize renders n bytes with a binary unit.
func FileSize(n int64) string {
	const unit = 1024
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%dGB", n/(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%dMB", n/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%dkB", n/unit)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// Recorder is an in-memory Sink. Edits replace the recorded text of a message.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	events   []string
}

// Send records a new message.
func (r *Recorder) Send(_ context.Context, text string) (MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	r.events = append(r.events, text)
	return MessageRef(fmt.Sprint(len(r.messages) - 1)), nil
}

// Edit replaces a recorded message.
func (r *Recorder) Edit(_ context.Context, ref MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var i int
	if _, err := fmt.Sscan(string(ref), &i); err != nil || i < 0 || i >= len(r.messages) {
		return fmt.Errorf("unknown message %q", ref)
	}
	r.messages[i] = text
	r.events = append(r.events, text)
	return nil
}

// Messages returns the current text of every sent message.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Events returns every delivery in order, sends and edits alike.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Last is the text of the most recent delivery.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1]
}
