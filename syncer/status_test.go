package syncer

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-enricher/remote"
)

func TestStatusService_BeforeAndAfterFirstRun(t *testing.T) {
	tmp := t.TempDir()
	runner, _ := newTestRunner(t, tmp, true, &fakeClock{now: time.Now().UTC()})
	svc := NewStatusService(runner)
	ctx := context.Background()

	has, err := svc.HasInitialSync(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	times, err := svc.GetSyncTimes(ctx)
	require.NoError(t, err)
	assert.Nil(t, times.LastSync)
	assert.Nil(t, times.NextSync)
	assert.False(t, times.Running)

	loc, err := svc.GetBackendLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "db", "sync.db"), loc)

	writeBatch(t, filepath.Join(tmp, "in", "b.json"), []SyncLogEntry{{Operation: OpCreate, Collection: CollectionPages, PK: okURL}})
	require.NoError(t, runner.RunOnce(ctx))

	has, err = svc.HasInitialSync(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	times, err = svc.GetSyncTimes(ctx)
	require.NoError(t, err)
	require.NotNil(t, times.LastSync)
	require.NotNil(t, times.NextSync)
	assert.Equal(t, time.Minute, times.NextSync.Sub(*times.LastSync))
}

func TestStatusService_OverRemoteRegistry(t *testing.T) {
	tmp := t.TempDir()
	runner, _ := newTestRunner(t, tmp, true, &fakeClock{now: time.Now().UTC()})

	reg := remote.NewRegistry()
	remote.RegisterStatusAPI(reg, NewStatusService(runner))
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	client := remote.NewStatusClient(remote.NewClient(srv.URL, srv.Client()))
	ov, err := remote.LoadOverview(context.Background(), client)
	require.NoError(t, err)

	assert.True(t, ov.AutomaticSyncEnabled)
	assert.False(t, ov.HasInitialSync)
	assert.True(t, ov.ShowWarning)
	assert.Equal(t, filepath.Join(tmp, "db", "sync.db"), ov.BackendLocation)
}

func TestStatusService_AfterClose(t *testing.T) {
	tmp := t.TempDir()
	runner, _ := newTestRunner(t, tmp, true, &fakeClock{now: time.Now().UTC()})
	svc := NewStatusService(runner)
	require.NoError(t, runner.Close())

	_, err := svc.HasInitialSync(context.Background())
	assert.True(t, errors.Is(err, ErrStorageUnavailable), "got %v", err)

	_, err = svc.GetSyncTimes(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	loc, err := svc.GetBackendLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "db", "sync.db"), loc)
}
