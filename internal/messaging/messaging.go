// Package messaging routes typed requests and notifications to registered
// handlers. Handlers are looked up by the static Go types of the message, so
// a request type answers with exactly one response type.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrNoHandler is returned by Send when no handler is registered.
	ErrNoHandler = errors.New("messaging: no handler registered")
	// ErrMultipleHandlers is returned when more than one handler is
	// registered for a request type.
	ErrMultipleHandlers = errors.New("messaging: multiple handlers registered")
)

// RequestHandler answers requests of type Req.
type RequestHandler[Req, Resp any] interface {
	HandleRequest(ctx context.Context, req Req) (Resp, error)
}

// NotificationHandler receives notifications of type N.
type NotificationHandler[N any] interface {
	HandleNotification(ctx context.Context, n N) error
}

// RequestFunc adapts a function to RequestHandler.
type RequestFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// HandleRequest calls f.
func (f RequestFunc[Req, Resp]) HandleRequest(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// NotificationFunc adapts a function to NotificationHandler.
type NotificationFunc[N any] func(ctx context.Context, n N) error

// HandleNotification calls f.
func (f NotificationFunc[N]) HandleNotification(ctx context.Context, n N) error {
	return f(ctx, n)
}

type requestKey struct {
	req, resp reflect.Type
}

// Registry holds handlers. The zero value is ready to use and a Registry is
// safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	requests      map[requestKey][]any
	notifications map[reflect.Type][]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Handle registers h for requests of type Req. Registering a second handler
// for the same request type makes every later Send fail.
func Handle[Req, Resp any](r *Registry, h RequestHandler[Req, Resp]) {
	key := requestKey{req: reflect.TypeFor[Req](), resp: reflect.TypeFor[Resp]()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requests == nil {
		r.requests = make(map[requestKey][]any)
	}
	r.requests[key] = append(r.requests[key], h)
}

// HandleFunc registers f for requests of type Req.
func HandleFunc[Req, Resp any](r *Registry, f func(ctx context.Context, req Req) (Resp, error)) {
	Handle[Req, Resp](r, RequestFunc[Req, Resp](f))
}

// Subscribe registers h for notifications of type N.
func Subscribe[N any](r *Registry, h NotificationHandler[N]) {
	key := reflect.TypeFor[N]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifications == nil {
		r.notifications = make(map[reflect.Type][]any)
	}
	r.notifications[key] = append(r.notifications[key], h)
}

// SubscribeFunc registers f for notifications of type N.
func SubscribeFunc[N any](r *Registry, f func(ctx context.Context, n N) error) {
	Subscribe[N](r, NotificationFunc[N](f))
}

// Send delivers req to its single handler.
func Send[Req, Resp any](ctx context.Context, r *Registry, req Req) (Resp, error) {
	resp, ok, err := TrySend[Req, Resp](ctx, r, req)
	if err != nil {
		return resp, err
	}
	if !ok {
		return resp, fmt.Errorf("%w for %s", ErrNoHandler, reflect.TypeFor[Req]())
	}
	return resp, nil
}

// TrySend delivers req to its single handler. It reports false without an
// error when no handler is registered.
func TrySend[Req, Resp any](ctx context.Context, r *Registry, req Req) (Resp, bool, error) {
	var zero Resp
	key := requestKey{req: reflect.TypeFor[Req](), resp: reflect.TypeFor[Resp]()}
	r.mu.RLock()
	handlers := r.requests[key]
	r.mu.RUnlock()
	switch len(handlers) {
	case 0:
		return zero, false, nil
	case 1:
	default:
		return zero, false, fmt.Errorf("%w for %s: only one handler may answer a request type", ErrMultipleHandlers, key.req)
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	resp, err := handlers[0].(RequestHandler[Req, Resp]).HandleRequest(ctx, req)
	return resp, true, err
}

// Publish delivers n to every subscriber in registration order. Handler
// errors are joined; delivery stops early if ctx is done.
func Publish[N any](ctx context.Context, r *Registry, n N) error {
	r.mu.RLock()
	handlers := r.notifications[reflect.TypeFor[N]()]
	r.mu.RUnlock()
	var errs []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := h.(NotificationHandler[N]).HandleNotification(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of handlers subscribed to N.
func Subscribers[N any](r *Registry) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifications[reflect.TypeFor[N]()])
}
