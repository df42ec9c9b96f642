package platform

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"feebot/pkg/logx"
)

// Router maps normalised inbound events to handlers. Adapters embed one and
// feed it from their native event loop.
type Router struct {
	log logx.Logger
	mw  []Middleware

	mu        sync.RWMutex
	commands  map[string]Handler
	text      Handler
	unknown   Handler
	callbacks map[string]CallbackHandler
}

func NewRouter(log logx.Logger, mw ...Middleware) *Router {
	return &Router{
		log:       log,
		mw:        mw,
		commands:  map[string]Handler{},
		callbacks: map[string]CallbackHandler{},
	}
}

// RegisterCommand binds a command keyword (without the leading slash).
func (r *Router) RegisterCommand(name string, h Handler) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if name == "" || h == nil {
		return
	}
	r.mu.Lock()
	r.commands[name] = h
	r.mu.Unlock()
}

func (r *Router) RegisterText(h Handler) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// RegisterUnknown handles commands with no registered handler.
func (r *Router) RegisterUnknown(h Handler) {
	r.mu.Lock()
	r.unknown = h
	r.mu.Unlock()
}

func (r *Router) RegisterCallback(route string, h CallbackHandler) {
	route = strings.TrimSpace(route)
	if route == "" || h == nil {
		return
	}
	r.mu.Lock()
	r.callbacks[route] = h
	r.mu.Unlock()
}

// Commands returns the registered command names in sorted order.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.commands))
	for k := range r.commands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Route dispatches msg. Messages nobody handles are dropped.
func (r *Router) Route(ctx context.Context, msg Message) error {
	h := r.lookup(msg.Text)
	if h == nil {
		return nil
	}
	return Chain(h, r.mw...)(ctx, msg)
}

func (r *Router) lookup(text string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := ParseCommand(text)
	if !ok {
		return r.text
	}
	if h, ok := r.commands[name]; ok {
		return h
	}
	return r.unknown
}

// RouteCallback dispatches data of the form "<route>:<payload>".
func (r *Router) RouteCallback(ctx context.Context, cb Callback) (err error) {
	route, payload, _ := strings.Cut(cb.Data, ":")
	r.mu.RLock()
	h := r.callbacks[route]
	r.mu.RUnlock()
	if h == nil {
		r.log.Debug("callback route not found", logx.String("route", route))
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("callback panic recovered",
				logx.String("route", route),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, cb, payload)
}

// ParseCommand extracts the lowercased command keyword from "/name@bot args".
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word, _, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "\n")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", false
	}
	return word, true
}
