package remote

import (
	"context"
	"time"
)

// Status function names.
const (
	FnGetSyncTimes           = "getSyncTimes"
	FnHasInitialSync         = "hasInitialSync"
	FnGetBackendLocation     = "getBackendLocation"
	FnIsAutomaticSyncEnabled = "isAutomaticSyncEnabled"
)

// SyncTimes describes the sync schedule. NextSync is unset when no run is scheduled;
// Running means a run is in progress right now.
type SyncTimes struct {
	LastSync *time.Time `json:"lastSync,omitempty"`
	NextSync *time.Time `json:"nextSync,omitempty"`
	Running  bool       `json:"running"`
}

// StatusAPI is the set of status queries a settings panel makes against the sync process.
type StatusAPI interface {
	GetSyncTimes(ctx context.Context) (SyncTimes, error)
	HasInitialSync(ctx context.Context) (bool, error)
	GetBackendLocation(ctx context.Context) (string, error)
	IsAutomaticSyncEnabled(ctx context.Context) (bool, error)
}

// RegisterStatusAPI binds api's methods under the status function names.
func RegisterStatusAPI(reg *Registry, api StatusAPI) {
	Register(reg, FnGetSyncTimes, func(ctx context.Context, _ struct{}) (SyncTimes, error) {
		return api.GetSyncTimes(ctx)
	})
	Register(reg, FnHasInitialSync, func(ctx context.Context, _ struct{}) (bool, error) {
		return api.HasInitialSync(ctx)
	})
	Register(reg, FnGetBackendLocation, func(ctx context.Context, _ struct{}) (string, error) {
		return api.GetBackendLocation(ctx)
	})
	Register(reg, FnIsAutomaticSyncEnabled, func(ctx context.Context, _ struct{}) (bool, error) {
		return api.IsAutomaticSyncEnabled(ctx)
	})
}

// StatusClient implements StatusAPI over a Client.
type StatusClient struct {
	c *Client
}

func NewStatusClient(c *Client) *StatusClient { return &StatusClient{c: c} }

func (s *StatusClient) GetSyncTimes(ctx context.Context) (SyncTimes, error) {
	return Call[SyncTimes](ctx, s.c, FnGetSyncTimes, nil)
}

func (s *StatusClient) HasInitialSync(ctx context.Context) (bool, error) {
	return Call[bool](ctx, s.c, FnHasInitialSync, nil)
}

func (s *StatusClient) GetBackendLocation(ctx context.Context) (string, error) {
	return Call[string](ctx, s.c, FnGetBackendLocation, nil)
}

func (s *StatusClient) IsAutomaticSyncEnabled(ctx context.Context) (bool, error) {
	return Call[bool](ctx, s.c, FnIsAutomaticSyncEnabled, nil)
}

// Overview is everything a status panel shows.
type Overview struct {
	SyncTimes            SyncTimes `json:"syncTimes"`
	HasInitialSync       bool      `json:"hasInitialSync"`
	BackendLocation      string    `json:"backendLocation"`
	AutomaticSyncEnabled bool      `json:"automaticSyncEnabled"`
	// ShowWarning is set when automatic sync is on but nothing has ever been synced:
	// the first sync has to be started by hand.
	ShowWarning bool `json:"showWarning"`
}

func LoadOverview(ctx context.Context, api StatusAPI) (Overview, error) {
	var ov Overview
	var err error
	if ov.SyncTimes, err = api.GetSyncTimes(ctx); err != nil {
		return Overview{}, err
	}
	if ov.HasInitialSync, err = api.HasInitialSync(ctx); err != nil {
		return Overview{}, err
	}
	if ov.BackendLocation, err = api.GetBackendLocation(ctx); err != nil {
		return Overview{}, err
	}
	if ov.AutomaticSyncEnabled, err = api.IsAutomaticSyncEnabled(ctx); err != nil {
		return Overview{}, err
	}
	ov.ShowWarning = !ov.HasInitialSync && ov.AutomaticSyncEnabled
	return ov, nil
}
