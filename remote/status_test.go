package remote

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	times     SyncTimes
	initial   bool
	location  string
	automatic bool
	err       error
}

func (f *fakeStatus) GetSyncTimes(context.Context) (SyncTimes, error) { return f.times, f.err }
func (f *fakeStatus) HasInitialSync(context.Context) (bool, error)    { return f.initial, nil }
func (f *fakeStatus) GetBackendLocation(context.Context) (string, error) {
	return f.location, nil
}
func (f *fakeStatus) IsAutomaticSyncEnabled(context.Context) (bool, error) {
	return f.automatic, nil
}

func TestLoadOverview_Warning(t *testing.T) {
	cases := []struct {
		initial, automatic, warn bool
	}{
		{initial: false, automatic: true, warn: true},
		{initial: true, automatic: true, warn: false},
		{initial: false, automatic: false, warn: false},
		{initial: true, automatic: false, warn: false},
	}
	for _, tc := range cases {
		ov, err := LoadOverview(context.Background(), &fakeStatus{initial: tc.initial, automatic: tc.automatic})
		require.NoError(t, err)
		assert.Equal(t, tc.warn, ov.ShowWarning, "initial=%v automatic=%v", tc.initial, tc.automatic)
	}
}

func TestLoadOverview_PropagatesErrors(t *testing.T) {
	_, err := LoadOverview(context.Background(), &fakeStatus{err: errors.New("down")})
	assert.EqualError(t, err, "down")
}

func TestStatusClient_OverHTTP(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := last.Add(time.Hour)
	api := &fakeStatus{
		times:     SyncTimes{LastSync: &last, NextSync: &next, Running: true},
		initial:   true,
		location:  "/var/lib/sync/sync.db",
		automatic: true,
	}
	reg := NewRegistry()
	RegisterStatusAPI(reg, api)
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	ov, err := LoadOverview(context.Background(), NewStatusClient(NewClient(srv.URL, nil)))
	require.NoError(t, err)
	require.NotNil(t, ov.SyncTimes.LastSync)
	assert.True(t, last.Equal(*ov.SyncTimes.LastSync))
	assert.True(t, next.Equal(*ov.SyncTimes.NextSync))
	assert.True(t, ov.SyncTimes.Running)
	assert.True(t, ov.HasInitialSync)
	assert.Equal(t, "/var/lib/sync/sync.db", ov.BackendLocation)
	assert.False(t, ov.ShowWarning)
}
