package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addReq struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newTestRegistry() *Registry {
	reg := NewRegistry()
	Register(reg, "add", func(_ context.Context, req addReq) (int, error) {
		return req.A + req.B, nil
	})
	Register(reg, "fail", func(_ context.Context, _ struct{}) (string, error) {
		return "", errors.New("nope")
	})
	Register(reg, "panic", func(_ context.Context, _ struct{}) (string, error) {
		panic("boom")
	})
	return reg
}

func TestRegistry_Invoke(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Invoke(context.Background(), "add", json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = reg.Invoke(context.Background(), "add", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = reg.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownFunction)

	_, err = reg.Invoke(context.Background(), "add", json.RawMessage(`"not an object"`))
	assert.ErrorIs(t, err, ErrBadParams)

	assert.Equal(t, []string{"add", "fail", "panic"}, reg.Names())
}

func TestRegistry_HandlerStatuses(t *testing.T) {
	srv := httptest.NewServer(newTestRegistry().Handler())
	defer srv.Close()

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"add", `{"a":1,"b":1}`, http.StatusOK},
		{"add", ``, http.StatusOK},
		{"add", `{"a":`, http.StatusBadRequest},
		{"add", `[1,2]`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusNotFound},
		{"fail", `{}`, http.StatusInternalServerError},
		{"panic", `{}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+"/rpc/"+tc.name, "application/json", strings.NewReader(tc.body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, tc.status, resp.StatusCode, "%s %q", tc.name, tc.body)
	}

	resp, err := http.Get(srv.URL + "/rpc")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []string{"add", "fail", "panic"}, list["functions"])
}

func TestCall_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(newTestRegistry().Handler())
	defer srv.Close()
	c := NewClient(srv.URL+"/", srv.Client())

	sum, err := Call[int](context.Background(), c, "add", addReq{A: 40, B: 2})
	require.NoError(t, err)
	assert.Equal(t, 42, sum)

	_, err = Call[string](context.Background(), c, "fail", nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "fail", re.Function)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Equal(t, "nope", re.Message)

	_, err = Call[int](context.Background(), c, "missing", nil)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
}
