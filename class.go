package goclass

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/objclass/goclass/types"
)

// Class is a named set of methods, the unit the daemon registers and calls
// into. Register all methods before the class starts serving.
type Class struct {
	name    string
	logger  zerolog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	methods map[string]methodEntry
}

type methodEntry struct {
	flags types.MethodFlags
	fn    Method
}

// Option configures a Class.
type Option func(*Class)

// WithLogger sets the structured logger used for dispatch diagnostics.
// Method log lines do not go here; they go to the native log through Context.Log.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Class) {
		c.logger = logger
	}
}

// WithMetrics records dispatch counts and latencies in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Class) {
		c.metrics = m
	}
}

// NewClass creates an empty class registered under name.
func NewClass(name string, opts ...Option) *Class {
	c := &Class{
		name:    name,
		logger:  zerolog.Nop(),
		methods: make(map[string]methodEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("class", name).Logger()
	return c
}

// Name returns the name the class is registered under.
func (c *Class) Name() string {
	return c.name
}

// Register adds a method under name. flags must allow at least reading or writing.
func (c *Class) Register(name string, flags types.MethodFlags, fn Method) error {
	switch {
	case name == "":
		return errors.New("method name must not be empty")
	case fn == nil:
		return fmt.Errorf("method %q: nil implementation", name)
	case flags&(types.MethodRead|types.MethodWrite) == 0:
		return fmt.Errorf("method %q: flags must include read or write", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.methods[name]; exists {
		return fmt.Errorf("method %q already registered in class %q", name, c.name)
	}
	c.methods[name] = methodEntry{flags: flags, fn: fn}
	c.logger.Debug().Str("method", name).Stringer("flags", flags).Msg("registered method")
	return nil
}

// MustRegister is like Register but panics on error. Meant for init-time wiring.
func (c *Class) MustRegister(name string, flags types.MethodFlags, fn Method) {
	if err := c.Register(name, flags, fn); err != nil {
		panic(err)
	}
}

// Methods returns the registered method names in sorted order.
func (c *Class) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flags returns the flags a method was registered with.
func (c *Class) Flags(name string) (types.MethodFlags, bool) {
	entry, ok := c.lookup(name)
	return entry.flags, ok
}

func (c *Class) lookup(name string) (methodEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.methods[name]
	return entry, ok
}
