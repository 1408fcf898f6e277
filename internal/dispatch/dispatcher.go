// Package dispatch provides the keyword→handler command tables used by the
// game and admin protocols. A table is built once at startup and shared
// read-only by every connection goroutine.
package dispatch

import (
	"fmt"
	"strings"
	"unicode"
)

// Message is one parsed protocol line. The first whitespace-delimited token
// selects the handler; the remainder of the line is carried as-is because
// some payloads (chat text, broadcast text) are free-form.
type Message struct {
	// Keyword is the first token of the line.
	Keyword string
	// Payload is everything after the first run of whitespace, untrimmed of
	// interior spaces.
	Payload string
	// Raw is the original line.
	Raw string
}

// Fields splits the payload on whitespace.
func (m Message) Fields() []string {
	return strings.Fields(m.Payload)
}

// Split parses a raw line into a Message.
//
// Postcondition: Keyword is empty only when the line is blank.
func Split(raw string) Message {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Message{Raw: raw}
	}
	cut := strings.IndexFunc(trimmed, unicode.IsSpace)
	if cut < 0 {
		return Message{Keyword: trimmed, Raw: raw}
	}
	return Message{
		Keyword: trimmed[:cut],
		Payload: strings.TrimLeftFunc(trimmed[cut:], unicode.IsSpace),
		Raw:     raw,
	}
}

// HandlerFunc processes one command for a connection context C. Handlers
// must not assume any ordering relative to concurrent commands from other
// connections beyond what the session registry itself guarantees.
type HandlerFunc[C any] func(ctx C, msg Message) error

// Dispatcher maps command keywords to handlers. Register during startup,
// then Dispatch from any number of goroutines.
type Dispatcher[C any] struct {
	handlers map[string]HandlerFunc[C]
	fallback HandlerFunc[C]
}

// New creates a Dispatcher whose fallback handles unmatched keywords.
// A nil fallback makes unknown keywords silent no-ops.
//
// Postcondition: Returns an empty Dispatcher ready for Register calls.
func New[C any](fallback HandlerFunc[C]) *Dispatcher[C] {
	return &Dispatcher[C]{
		handlers: make(map[string]HandlerFunc[C]),
		fallback: fallback,
	}
}

// Register binds a keyword to a handler.
//
// Precondition: keyword must be non-empty and not yet registered; h must be non-nil.
// Postcondition: Dispatch routes keyword to h, or an error on collision.
func (d *Dispatcher[C]) Register(keyword string, h HandlerFunc[C]) error {
	if keyword == "" {
		return fmt.Errorf("empty command keyword")
	}
	if h == nil {
		return fmt.Errorf("nil handler for keyword %q", keyword)
	}
	if _, exists := d.handlers[keyword]; exists {
		return fmt.Errorf("duplicate command keyword: %q", keyword)
	}
	d.handlers[keyword] = h
	return nil
}

// MustRegister is Register for startup tables whose keywords are fixed.
// It panics on collision, which is a programming error.
func (d *Dispatcher[C]) MustRegister(keyword string, h HandlerFunc[C]) {
	if err := d.Register(keyword, h); err != nil {
		panic(fmt.Sprintf("registering command: %v", err))
	}
}

// Dispatch parses the line and invokes the matching handler, or the
// fallback when the keyword is unknown. Blank lines are ignored.
//
// Postcondition: Returns the handler's error, or nil for blank input or an
// unknown keyword with no fallback.
func (d *Dispatcher[C]) Dispatch(ctx C, raw string) error {
	msg := Split(raw)
	if msg.Keyword == "" {
		return nil
	}
	h, ok := d.handlers[msg.Keyword]
	if !ok {
		if d.fallback == nil {
			return nil
		}
		return d.fallback(ctx, msg)
	}
	return h(ctx, msg)
}

// Keywords returns all registered keywords in no particular order.
func (d *Dispatcher[C]) Keywords() []string {
	result := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		result = append(result, k)
	}
	return result
}
