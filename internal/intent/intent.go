// Package intent names user-triggered operations and keeps the registry the
// presentation layers dispatch through.
package intent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Fixed intent names.
const (
	Build           = "build"
	Release         = "release"
	Run             = "run"
	Stop            = "stop"
	Restart         = "restart"
	BuildAndRestart = "build-and-restart"

	migratePrefix = "migrate:"
)

var (
	ErrUnknownIntent = errors.New("unknown intent")
	// ErrNoRegistry aborts initialization when no command registry is available.
	ErrNoRegistry = errors.New("command registry with introspection is required")
	ErrDuplicate  = errors.New("intent already registered")
)

// MigrateName is the intent applying version to app.
func MigrateName(app string, version int) string {
	return migratePrefix + app + ":" + strconv.Itoa(version)
}

// ParseMigrate splits a migrate intent name. The application name may not
// contain ':'.
func ParseMigrate(name string) (app string, version int, ok bool) {
	rest, found := strings.CutPrefix(name, migratePrefix)
	if !found {
		return "", 0, false
	}
	app, v, found := strings.Cut(rest, ":")
	if !found || app == "" || strings.Contains(v, ":") {
		return "", 0, false
	}
	version, err := strconv.Atoi(v)
	if err != nil || version < 0 {
		return "", 0, false
	}
	return app, version, true
}

// ValidApp reports whether app can be encoded in a migrate intent name.
func ValidApp(app string) bool {
	return app != "" && !strings.Contains(app, ":")
}

// HasMigratePrefix reports whether name claims to be a migrate intent,
// well-formed or not.
func HasMigratePrefix(name string) bool {
	return strings.HasPrefix(name, migratePrefix)
}

// IsMigrate reports whether name is a well-formed migrate intent.
func IsMigrate(name string) bool {
	_, _, ok := ParseMigrate(name)
	return ok
}

// Handler performs one intent.
type Handler func(ctx context.Context) error

// Commands is the registration port with the introspection the controller
// relies on to register migrate intents only once.
type Commands interface {
	Add(name string, h Handler) error
	Registered(name string) bool
}

// Registry is the in-process Commands implementation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Add(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("invalid intent registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Lookup returns the handler of name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, name)
	}
	return h, nil
}

// Dispatch runs the handler of name in the calling goroutine.
func (r *Registry) Dispatch(ctx context.Context, name string) error {
	h, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return h(ctx)
}

// Names lists registered intents, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
