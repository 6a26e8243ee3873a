package remote

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMount_ServesUntilUnmount(t *testing.T) {
	m, err := Mount("127.0.0.1:0", newTestRegistry().Handler())
	require.NoError(t, err)

	resp, err := http.Get("http://" + m.Addr() + "/rpc")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Unmount(ctx))
	require.NoError(t, m.Unmount(ctx), "second unmount is a no-op")

	// The listener is released: the port can be bound again.
	ln, err := net.Listen("tcp", m.Addr())
	require.NoError(t, err)
	_ = ln.Close()
}

func TestMount_BadAddr(t *testing.T) {
	_, err := Mount("256.0.0.1:bad", http.NotFoundHandler())
	assert.Error(t, err)
}
