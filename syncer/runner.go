package syncer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backlogSourcePath = "backlog"

type RunnerConfig struct {
	DBPath   string
	JobLabel string
	Debug    bool
	Inputs   []InputSpec
	// Concurrency bounds how many entries of one batch are enriched at once. Default: 4.
	Concurrency        int
	DeleteAfterProcess bool
	// Timeout bounds one RunOnce. Zero means no limit.
	Timeout time.Duration
	// Automatic is true when the runner is driven by a poll loop rather than one-shot.
	Automatic    bool
	PollInterval time.Duration

	Fetch            HTTPFetcherConfig
	Pipeline         PipelineOptions
	Backlog          BacklogOptions
	BacklogBatchSize int

	// ReportAddr, when set, receives an RFC 5424 summary after every run.
	ReportAddr string
}

type InputSpec struct {
	Source   string
	Glob     string
	ErrorDir string
}

type Runner struct {
	cfg      RunnerConfig
	db       *gorm.DB
	backlog  *DBBacklog
	pipeline PagePipeline
	pages    *PageDataProcessor
	enricher *Enricher
	report   ReportSender
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	status RunStatus
}

// RunStatus is the runner's view of its own schedule.
type RunStatus struct {
	Running      bool
	LastRunID    string
	LastStarted  time.Time
	LastFinished time.Time
	LastError    string
	LastStats    RunStats
}

type RunStats struct {
	BatchesIngested int
	BatchesFailed   int
	BatchesDeleted  int
	Entries         int
	Passthrough     int
	Enriched        int
	Stubbed         int
	Deferred        int
	Retried         int
	RetryFailed     int
	RetryDropped    int
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("%w: DBPath is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.JobLabel) == "" {
		return nil, fmt.Errorf("%w: JobLabel is required", ErrInvalidConfig)
	}
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("%w: Inputs is required", ErrInvalidConfig)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BacklogBatchSize <= 0 {
		cfg.BacklogBatchSize = 50
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("job", cfg.JobLabel)
	if cfg.Backlog.Logger == nil {
		cfg.Backlog.Logger = logger
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		db:       db,
		backlog:  NewDBBacklog(db, cfg.Backlog),
		pipeline: NewDefaultPipeline(cfg.Pipeline),
		logger:   logger,
	}
	if strings.TrimSpace(cfg.ReportAddr) != "" {
		r.report = NewSyslogClient(cfg.ReportAddr)
	}
	if err := r.setFetcher(NewHTTPFetcher(cfg.Fetch)); err != nil {
		_ = closeDB(db)
		return nil, err
	}
	return r, nil
}

// setFetcher rebuilds the enrichment chain around f.
func (r *Runner) setFetcher(f PageFetcher) error {
	enricher, err := NewEnricher(EnricherOptions{
		Fetcher:  f,
		Pipeline: r.pipeline,
		Backlog:  r.backlog,
		Logger:   r.logger,
	})
	if err != nil {
		return err
	}
	r.pages = &PageDataProcessor{Fetcher: f, Pipeline: r.pipeline}
	r.enricher = enricher
	return nil
}

func (r *Runner) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return closeDB(r.db)
}

// queryDB returns the database for readers outside a run, such as the status service.
func (r *Runner) queryDB() (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRunnerClosed
	}
	return r.db, nil
}

func (r *Runner) Backlog() *DBBacklog { return r.backlog }

func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()
	runID := uuid.NewString()
	stats := &RunStats{}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRunnerClosed
	}
	if r.status.Running {
		r.mu.Unlock()
		return fmt.Errorf("run already in progress (%s)", r.status.LastRunID)
	}
	r.status.Running = true
	r.status.LastRunID = runID
	r.status.LastStarted = start
	r.mu.Unlock()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	runErr := r.run(ctx, runID, stats)

	end := time.Now()
	r.mu.Lock()
	r.status.Running = false
	r.status.LastFinished = end
	r.status.LastStats = *stats
	r.status.LastError = ""
	if runErr != nil {
		r.status.LastError = runErr.Error()
	}
	r.mu.Unlock()

	if r.report != nil {
		// Best-effort: a missing collector must not fail the run.
		if err := r.sendReport(runID, start, end, stats, runErr); err != nil {
			r.debugf("report send failed run=%s err=%v", runID, err)
		}
	}
	r.debugf("run_once done: run=%s batches=%d entries=%d enriched=%d stubbed=%d deferred=%d retried=%d deleted=%d elapsed=%s",
		runID, stats.BatchesIngested, stats.Entries, stats.Enriched, stats.Stubbed, stats.Deferred, stats.Retried, stats.BatchesDeleted, end.Sub(start))
	return runErr
}

func (r *Runner) run(ctx context.Context, runID string, stats *RunStats) error {
	r.debugf("run_once start: run=%s db=%q inputs=%d deleteAfterProcess=%v timeout=%s", runID, r.cfg.DBPath, len(r.cfg.Inputs), r.cfg.DeleteAfterProcess, r.cfg.Timeout)

	items, err := r.expandInputs(r.cfg.Inputs)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("timeout exceeded: %w", err)
		}
		r.debugf("ingest path=%q source=%q", it.Path, it.Source)
		if err := r.ingestFile(ctx, runID, it, stats); err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				return err
			}
			stats.BatchesFailed++
			r.debugf("ingest failed path=%q err=%v", it.Path, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("timeout exceeded: %w", err)
	}
	if err := r.retryBacklog(ctx, stats); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("timeout exceeded: %w", err)
	}
	return r.finalizeBatches(stats)
}

var errRunnerClosed = fmt.Errorf("%w: runner closed", ErrStorageUnavailable)

// storageErr promotes store-level failures to ErrStorageUnavailable and leaves row-level
// failures as they are.
var storageErr = HandleStorageErrors(
	func(err error) error { return err },
	func(err error) error {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, StorageErrorName(err), err)
	},
	nil,
)

type inputItem struct {
	Path     string
	Source   string
	ErrorDir string
}

func (r *Runner) expandInputs(inputs []InputSpec) ([]inputItem, error) {
	seen := make(map[string]struct{})
	var out []inputItem
	for _, in := range inputs {
		if strings.TrimSpace(in.Glob) == "" {
			continue
		}
		matches, err := expandGlobWithDoubleStar(in.Glob)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, inputItem{Path: m, Source: in.Source, ErrorDir: in.ErrorDir})
		}
	}
	return out, nil
}

func expandGlobWithDoubleStar(pattern string) ([]string, error) {
	// filepath.Glob doesn't support **.
	if !strings.Contains(pattern, "**") {
		return filepath.Glob(pattern)
	}

	idx := strings.Index(pattern, "**")
	basePart := strings.TrimRight(pattern[:idx], string(filepath.Separator)+"/")
	if basePart == "" {
		basePart = "."
	}
	basePart = filepath.Clean(basePart)

	suffix := strings.TrimLeft(pattern[idx+2:], string(filepath.Separator)+"/")
	if suffix == "" {
		suffix = "*"
	}

	baseSlash := filepath.ToSlash(basePart)
	suffixSlash := filepath.ToSlash(suffix)
	matchBasenameOnly := !strings.Contains(suffixSlash, "/")

	var matches []string
	err := filepath.WalkDir(basePart, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimLeft(strings.TrimPrefix(filepath.ToSlash(p), baseSlash), "/")
		candidate := rel
		if matchBasenameOnly {
			candidate = path.Base(rel)
		}
		ok, matchErr := path.Match(suffixSlash, candidate)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *Runner) ingestFile(ctx context.Context, runID string, it inputItem, stats *RunStats) error {
	info, err := os.Stat(it.Path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Size() <= 0 {
		return nil
	}

	content, err := os.ReadFile(it.Path)
	if err != nil {
		if strings.TrimSpace(it.ErrorDir) != "" {
			_, _ = QuarantineFile(it.Path, it.ErrorDir)
		}
		return err
	}

	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	already, err := r.isAlreadyProcessed(it.Path, sha)
	if err != nil {
		return storageErr(err)
	}
	if already {
		r.debugf("skip already processed path=%q sha=%s", it.Path, sha)
		return nil
	}

	batch := ProcessedBatch{
		Path:        it.Path,
		SHA256:      sha,
		SizeBytes:   info.Size(),
		ModUnixNano: info.ModTime().UnixNano(),
		RunID:       runID,
	}

	entries, invalid, err := DecodeEntries(content)
	if err != nil {
		r.debugf("decode error path=%q err=%v", it.Path, err)
		batch.ProcessedAt = time.Now().UTC()
		batch.LastError = fmt.Sprintf("decode: %v", err)
		if err := r.db.Create(&batch).Error; err != nil {
			return storageErr(err)
		}
		if strings.TrimSpace(it.ErrorDir) != "" {
			dst, mvErr := QuarantineFile(it.Path, it.ErrorDir)
			if mvErr != nil {
				r.updateBatch(batch.ID, map[string]any{"last_error": fmt.Sprintf("%s; quarantine failed: %v", batch.LastError, mvErr)})
				return mvErr
			}
			now := time.Now().UTC()
			r.updateBatch(batch.ID, map[string]any{"deleted": true, "deleted_at": &now, "last_error": fmt.Sprintf("%s; moved to %s", batch.LastError, dst)})
			stats.BatchesDeleted++
		}
		return err
	}

	outputs := r.enrichAll(ctx, entries)

	now := time.Now().UTC()
	var rows []StoredEntry
	var pages []PageRow
	for i, out := range outputs {
		stats.Entries++
		switch out.outcome {
		case OutcomePassthrough:
			stats.Passthrough++
		case OutcomeEnriched:
			stats.Enriched++
			batch.Enriched++
		case OutcomeStub:
			stats.Stubbed++
			batch.Stubbed++
		case OutcomeDeferred:
			stats.Deferred++
			batch.Deferred++
		}
		if out.entry == nil {
			continue
		}
		row, err := newStoredEntry(out.entry, out.outcome, it.Path, sha, i, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		if page, ok := newPageRow(out.entry, out.outcome, now); ok {
			pages = append(pages, page)
		}
	}

	batch.Entries = len(entries)
	batch.ProcessedAt = now
	batch.AllDone = true
	if invalid > 0 {
		batch.LastError = fmt.Sprintf("%d invalid entries skipped", invalid)
	}
	if err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := storeOutputs(tx, rows, pages); err != nil {
			return err
		}
		return tx.Create(&batch).Error
	}); err != nil {
		r.debugf("db transaction failed path=%q err=%v", it.Path, err)
		return storageErr(err)
	}
	stats.BatchesIngested++

	if r.cfg.DeleteAfterProcess {
		if err := r.tryDeleteBatchFile(batch.ID, it.Path); err != nil {
			r.debugf("delete failed path=%q err=%v", it.Path, err)
			return err
		}
		stats.BatchesDeleted++
	}
	return nil
}

type enrichResult struct {
	entry   *SyncLogEntry
	outcome Outcome
}

// enrichAll runs the enricher over entries with bounded concurrency, keeping input order.
func (r *Runner) enrichAll(ctx context.Context, entries []*SyncLogEntry) []enrichResult {
	out := make([]enrichResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			entry, outcome := r.enricher.ProcessWithOutcome(gctx, e)
			out[i] = enrichResult{entry: entry, outcome: outcome}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func storeOutputs(tx *gorm.DB, rows []StoredEntry, pages []PageRow) error {
	if len(rows) > 0 {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}
	for i := range pages {
		if pages[i].Stub {
			// A stub never replaces a page that was fetched in full.
			var existing PageRow
			err := tx.Select("url", "stub").Where("url = ?", pages[i].URL).Take(&existing).Error
			if err == nil && !existing.Stub {
				continue
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&pages[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func newStoredEntry(e *SyncLogEntry, outcome Outcome, sourcePath, sha string, idx int, now time.Time) (StoredEntry, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return StoredEntry{}, err
	}
	return StoredEntry{
		StoredAt:   now,
		SourcePath: sourcePath,
		BatchSHA:   sha,
		EntryIndex: idx,
		Operation:  string(e.Operation),
		Collection: e.Collection,
		PK:         e.Key(),
		Outcome:    string(outcome),
		EntryJSON:  string(b),
	}, nil
}

func newPageRow(e *SyncLogEntry, outcome Outcome, now time.Time) (PageRow, bool) {
	if !e.IsPageCreate() || !e.HasPageValue() {
		return PageRow{}, false
	}
	p := e.Data.Value
	key := p.URL
	if key == "" {
		key = e.Key()
	}
	terms, _ := json.Marshal(map[string][]string{
		"terms":      p.Terms,
		"urlTerms":   p.URLTerms,
		"titleTerms": p.TitleTerms,
		"tags":       p.Tags,
	})
	hash := ""
	if p.Text != "" {
		hash = HashNormalized(NormalizeText(p.Text), 0)
	}
	return PageRow{
		URL:         key,
		FullURL:     p.FullURL,
		FullTitle:   p.FullTitle,
		Domain:      p.Domain,
		Hostname:    p.Hostname,
		Text:        p.Text,
		TermsJSON:   string(terms),
		ContentHash: hash,
		Stub:        outcome == OutcomeStub,
		UpdatedAt:   now,
	}, true
}

// DecodeEntries reads a batch file: a JSON array of entries, a single entry, or one entry
// per line. Entries without an operation or collection are skipped and counted.
func DecodeEntries(content []byte) ([]*SyncLogEntry, int, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, 0, errors.New("empty batch")
	}

	var raw []*SyncLogEntry
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, 0, err
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		for {
			var e SyncLogEntry
			err := dec.Decode(&e)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, 0, fmt.Errorf("entry %d: %w", len(raw), err)
			}
			raw = append(raw, &e)
		}
	}

	out := make([]*SyncLogEntry, 0, len(raw))
	invalid := 0
	for _, e := range raw {
		if e == nil || strings.TrimSpace(string(e.Operation)) == "" || strings.TrimSpace(e.Collection) == "" {
			invalid++
			continue
		}
		out = append(out, e)
	}
	return out, invalid, nil
}

func (r *Runner) isAlreadyProcessed(path string, sha string) (bool, error) {
	var pb ProcessedBatch
	err := r.db.Where("path = ? AND sha256 = ?", path, sha).First(&pb).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Runner) updateBatch(id uint, fields map[string]any) {
	_ = r.db.Model(&ProcessedBatch{}).Where("id = ?", id).Updates(fields).Error
}

func (r *Runner) tryDeleteBatchFile(id uint, path string) error {
	if err := os.Remove(path); err != nil {
		r.updateBatch(id, map[string]any{"last_error": fmt.Sprintf("delete failed: %v", err)})
		return err
	}
	now := time.Now().UTC()
	return r.db.Model(&ProcessedBatch{}).Where("id = ?", id).
		Updates(map[string]any{"deleted": true, "deleted_at": &now}).Error
}

// retryBacklog re-fetches due backlog URLs and emits page-create entries for the ones
// that now resolve, either fully or as stubs.
func (r *Runner) retryBacklog(ctx context.Context, stats *RunStats) error {
	due, err := r.backlog.Due(ctx, r.cfg.BacklogBatchSize)
	if err != nil {
		return storageErr(err)
	}
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("timeout exceeded: %w", err)
		}
		rec, fetchErr := r.pages.Process(ctx, item.URL)
		if fetchErr != nil && FetchErrorKindOf(fetchErr) == FetchTemporary {
			dropped, err := r.backlog.Fail(ctx, item.URL, fetchErr)
			if err != nil {
				return storageErr(err)
			}
			stats.RetryFailed++
			r.debugf("backlog retry failed url=%q attempts=%d dropped=%v err=%v", item.URL, item.Attempts+1, dropped, fetchErr)
			if !dropped {
				continue
			}
			// Out of attempts: the page is stored as a stub.
			stats.RetryDropped++
			rec = r.pages.stub(ctx, item.URL)
		}

		outcome := OutcomeRetried
		if fetchErr != nil {
			outcome = OutcomeStub
			stats.Stubbed++
		} else {
			stats.Retried++
		}
		entry := (&SyncLogEntry{
			Operation:  OpCreate,
			Collection: CollectionPages,
			PK:         item.URL,
			CreatedOn:  time.Now().UnixMilli(),
		}).withPage(rec)

		now := time.Now().UTC()
		row, err := newStoredEntry(entry, outcome, backlogSourcePath, "", int(item.ID), now)
		if err != nil {
			return err
		}
		page, _ := newPageRow(entry, outcome, now)
		if err := r.db.Transaction(func(tx *gorm.DB) error {
			return storeOutputs(tx, []StoredEntry{row}, []PageRow{page})
		}); err != nil {
			return storageErr(err)
		}
		if err := r.backlog.Done(ctx, item.URL); err != nil {
			return storageErr(err)
		}
		r.debugf("backlog retry ok url=%q outcome=%s", item.URL, outcome)
	}
	return nil
}

// finalizeBatches deletes source files of batches that were stored but whose delete
// failed on an earlier run.
func (r *Runner) finalizeBatches(stats *RunStats) error {
	if !r.cfg.DeleteAfterProcess {
		return nil
	}
	var pbs []ProcessedBatch
	if err := r.db.Where("all_done = ? AND deleted = ?", true, false).Find(&pbs).Error; err != nil {
		return storageErr(err)
	}
	for _, pb := range pbs {
		if _, statErr := os.Stat(pb.Path); statErr != nil {
			now := time.Now().UTC()
			r.updateBatch(pb.ID, map[string]any{"deleted": true, "deleted_at": &now, "last_error": "file missing"})
			continue
		}
		if err := r.tryDeleteBatchFile(pb.ID, pb.Path); err == nil {
			r.debugf("finalize deleted path=%q", pb.Path)
			stats.BatchesDeleted++
		}
	}
	return nil
}

func (r *Runner) sendReport(runID string, start, end time.Time, stats *RunStats, runErr error) error {
	status := "ok"
	errMsg := ""
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
	}
	backlogLen, _ := r.backlog.Len(context.Background())
	msg := map[string]any{
		"run_id":          runID,
		"status":          status,
		"error":           errMsg,
		"started_at":      start.UTC().Format(time.RFC3339Nano),
		"ended_at":        end.UTC().Format(time.RFC3339Nano),
		"duration_ms":     end.Sub(start).Milliseconds(),
		"batches":         stats.BatchesIngested,
		"batches_failed":  stats.BatchesFailed,
		"batches_deleted": stats.BatchesDeleted,
		"entries":         stats.Entries,
		"enriched":        stats.Enriched,
		"stubbed":         stats.Stubbed,
		"deferred":        stats.Deferred,
		"retried":         stats.Retried,
		"retry_failed":    stats.RetryFailed,
		"backlog":         backlogLen,
	}
	b, _ := json.Marshal(msg)
	structured := buildStructuredData("sync", map[string]string{
		"job":     r.cfg.JobLabel,
		"run_id":  runID,
		"status":  status,
		"backlog": strconv.FormatInt(backlogLen, 10),
	})
	return r.report.SendRFC5424Timeout("sync-enricher", structured, string(b), 3*time.Second)
}
