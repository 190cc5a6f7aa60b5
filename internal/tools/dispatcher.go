// ABOUTME: Tool registry and dispatcher for the bookshelf session actor
// ABOUTME: Validates arguments, counts the interaction and runs the matched handler

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/bookshelf-gateway/internal/bookshelf"
	"github.com/2389/bookshelf-gateway/internal/recommend"
)

// ErrToolNotFound is returned for names that are not registered.
var ErrToolNotFound = errors.New("tool not found")

// Call is the per-invocation context a handler works against.
type Call struct {
	Prefs *bookshelf.Preferences
	Now   time.Time
}

// Result is the reply of one tool invocation.
type Result struct {
	Text string
	// Data is a structured copy of what Text describes.
	Data any
}

// Tool is one named operation exposed to the session protocol.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	invoke      func(ctx context.Context, c *Call, args json.RawMessage) (*Result, error)
}

// newTool binds a typed handler. Arguments are decoded into In and
// validated before the handler runs, and the interaction counter is bumped
// once between validation and the handler.
func newTool[In any](name, description, schema string, run func(ctx context.Context, c *Call, in *In) (*Result, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
		invoke: func(ctx context.Context, c *Call, args json.RawMessage) (*Result, error) {
			in := new(In)
			if err := decodeArgs(name, args, in); err != nil {
				return nil, err
			}
			c.Prefs.Touch()
			return run(ctx, c, in)
		},
	}
}

// Config holds the dependencies of the bookshelf tools.
type Config struct {
	Recommender recommend.Completer
	// MaxTokens caps each recommendation completion.
	MaxTokens int
	Logger    *slog.Logger
}

// Dispatcher owns the static tool table.
type Dispatcher struct {
	tools       map[string]*Tool
	order       []*Tool
	recommender recommend.Completer
	maxTokens   int
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher with the four bookshelf tools registered.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		tools:       make(map[string]*Tool),
		recommender: cfg.Recommender,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With("component", "tools"),
	}
	for _, t := range d.bookshelfTools() {
		d.register(t)
	}
	return d
}

func (d *Dispatcher) register(t *Tool) {
	if _, dup := d.tools[t.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate tool %q", t.Name))
	}
	d.tools[t.Name] = t
	d.order = append(d.order, t)
}

// Tools returns the registered tools in registration order.
func (d *Dispatcher) Tools() []*Tool {
	return append([]*Tool(nil), d.order...)
}

// Has reports whether name is a registered tool.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// Dispatch runs one tool against c.Prefs. On a *ValidationError the
// preferences are unchanged. Callers persist c.Prefs only when err is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, c *Call, args json.RawMessage) (*Result, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if c == nil || c.Prefs == nil {
		return nil, errors.New("tools: call has no preferences")
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	return t.invoke(ctx, c, args)
}
