package syncer

import (
	"context"

	"sync-enricher/remote"
)

// StatusService answers status queries from the runner's state and database.
type StatusService struct {
	r *Runner
}

var _ remote.StatusAPI = (*StatusService)(nil)

func NewStatusService(r *Runner) *StatusService { return &StatusService{r: r} }

func (s *StatusService) GetSyncTimes(ctx context.Context) (remote.SyncTimes, error) {
	st := s.r.Status()
	out := remote.SyncTimes{Running: st.Running}

	last := st.LastFinished
	if last.IsZero() {
		db, err := s.r.queryDB()
		if err != nil {
			return remote.SyncTimes{}, err
		}
		var pb ProcessedBatch
		err = db.WithContext(ctx).Order("processed_at DESC").Limit(1).Find(&pb).Error
		if err != nil {
			return remote.SyncTimes{}, storageErr(err)
		}
		last = pb.ProcessedAt
	}
	if !last.IsZero() {
		t := last.UTC()
		out.LastSync = &t
	}

	if s.r.cfg.Automatic && s.r.cfg.PollInterval > 0 && !st.LastFinished.IsZero() {
		next := st.LastFinished.Add(s.r.cfg.PollInterval).UTC()
		out.NextSync = &next
	}
	return out, nil
}

func (s *StatusService) HasInitialSync(ctx context.Context) (bool, error) {
	db, err := s.r.queryDB()
	if err != nil {
		return false, err
	}
	var n int64
	if err := db.WithContext(ctx).Model(&ProcessedBatch{}).Where("all_done = ?", true).Count(&n).Error; err != nil {
		return false, storageErr(err)
	}
	return n > 0, nil
}

func (s *StatusService) GetBackendLocation(context.Context) (string, error) {
	return s.r.cfg.DBPath, nil
}

func (s *StatusService) IsAutomaticSyncEnabled(context.Context) (bool, error) {
	return s.r.cfg.Automatic, nil
}
