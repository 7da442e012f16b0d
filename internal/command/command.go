package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cybercyphers/cyphbeta/internal/backend"
)

const Prefix = "."

// Replier sends text back to a chat.
type Replier interface {
	SendText(ctx context.Context, chat, text string) (string, error)
}

// Request is one parsed command invocation.
type Request struct {
	Name    string
	Args    []string
	Message backend.Message
	Logger  *slog.Logger

	replier Replier
}

func (r *Request) Chat() string { return r.Message.Chat }

func (r *Request) Reply(ctx context.Context, text string) error {
	if _, err := r.replier.SendText(ctx, r.Message.Chat, text); err != nil {
		return fmt.Errorf("reply to %s: %w", r.Message.Chat, err)
	}
	return nil
}

// Arg returns the i-th argument lower-cased, or "" when absent.
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return strings.ToLower(r.Args[i])
}

type Handler interface {
	Execute(ctx context.Context, req *Request) error
}

type HandlerFunc func(ctx context.Context, req *Request) error

func (f HandlerFunc) Execute(ctx context.Context, req *Request) error { return f(ctx, req) }

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("command name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("command %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("command %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(name)]
	return h, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Parse splits ".name arg1 arg2" into its lower-cased name and arguments.
func Parse(text string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(text, Prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, Prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
