package remote

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Mounted is a handler serving on its own listener until Unmount.
type Mounted struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}

	once sync.Once
	err  error
}

// Mount starts serving h on addr. Callers must Unmount to release the listener.
func Mount(addr string, h http.Handler) (*Mounted, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m := &Mounted{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("remote: serve failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return m, nil
}

// Addr is the bound address, useful when mounted on port 0.
func (m *Mounted) Addr() string { return m.ln.Addr().String() }

// Unmount stops the server. In-flight requests get until ctx is done, then connections are
// closed hard. Safe to call more than once; later calls return the first result.
func (m *Mounted) Unmount(ctx context.Context) error {
	m.once.Do(func() {
		if err := m.srv.Shutdown(ctx); err != nil {
			m.err = err
			_ = m.srv.Close()
		}
		<-m.done
	})
	return m.err
}
