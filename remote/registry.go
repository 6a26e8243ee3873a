// Package remote exposes named, typed functions of a running process over HTTP and
// calls them from another process.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	ErrUnknownFunction = errors.New("remote: unknown function")
	ErrBadParams       = errors.New("remote: bad params")
)

// HandlerFunc is the untyped form every registered function is stored as.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps function names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds fn under name. Params are decoded into Req; an empty body yields the zero Req.
// Registering a name twice replaces the earlier handler.
func Register[Req, Resp any](r *Registry, name string, fn func(ctx context.Context, req Req) (Resp, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = func(ctx context.Context, params json.RawMessage) (any, error) {
		var req Req
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
			}
		}
		return fn(ctx, req)
	}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the function registered under name.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return h(ctx, params)
}

type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const maxParamsBytes = 1 << 20

// Handler serves the registry:
//
//	GET  /rpc         list of function names
//	POST /rpc/{name}  JSON params in, {"result": ...} or {"error": ...} out
func (r *Registry) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/rpc", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"functions": r.Names()})
	})

	router.Post("/rpc/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		var params json.RawMessage
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxParamsBytes))
		if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, envelope{Error: fmt.Sprintf("%v: %v", ErrBadParams, err)})
			return
		}

		result, err := r.Invoke(req.Context(), name, params)
		switch {
		case errors.Is(err, ErrUnknownFunction):
			writeJSON(w, http.StatusNotFound, envelope{Error: err.Error()})
			return
		case errors.Is(err, ErrBadParams):
			writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, envelope{Error: err.Error()})
			return
		}

		b, err := json.Marshal(result)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, envelope{Error: fmt.Sprintf("encode result: %v", err)})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Result: b})
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
