package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// PageContent is the raw content a fetcher pulled out of a page.
type PageContent struct {
	Title    string
	FullText string
}

// FetchedPage is a successful fetch result. URL is the final URL after redirects.
type FetchedPage struct {
	URL     string
	Content PageContent
}

// PageFetcher retrieves page content. Failures should be *FetchError values; any other
// error is treated as temporary. Cancelling ctx cancels the fetch.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*FetchedPage, error)
}

// PageDoc is the input of the derivation pipeline.
type PageDoc struct {
	URL     string
	Content PageContent
}

// PagePipeline turns fetched content into a PageRecord.
type PagePipeline interface {
	Derive(ctx context.Context, doc PageDoc) (*PageRecord, error)
}

// PipelineFunc adapts a plain function to PagePipeline.
type PipelineFunc func(ctx context.Context, doc PageDoc) (*PageRecord, error)

func (f PipelineFunc) Derive(ctx context.Context, doc PageDoc) (*PageRecord, error) {
	return f(ctx, doc)
}

// Backlog durably records URLs whose fetch should be retried later.
type Backlog interface {
	EnqueueEntry(ctx context.Context, url string) error
}

// PageDataProcessor fetches a page and runs it through the pipeline.
type PageDataProcessor struct {
	Fetcher  PageFetcher
	Pipeline PagePipeline
}

// Process returns the derived record for url.
//
// On a permanent failure it returns a stub record (title = url, no text) together with the
// *FetchError, so callers can tell a stub from a real result. On a temporary failure the
// record is nil.
func (p *PageDataProcessor) Process(ctx context.Context, url string) (*PageRecord, error) {
	page, err := p.Fetcher.FetchPage(ctx, url)
	if err != nil {
		if FetchErrorKindOf(err) == FetchPermanent {
			return p.stub(ctx, url), err
		}
		return nil, err
	}

	docURL := page.URL
	if docURL == "" {
		docURL = url
	}
	rec, err := p.Pipeline.Derive(ctx, PageDoc{URL: docURL, Content: page.Content})
	if err != nil || rec == nil {
		if err == nil {
			err = errors.New("pipeline returned no record")
		}
		// Re-fetching the same content would fail the same way.
		return p.stub(ctx, url), permanentErr(url, 0, err)
	}
	rec.fillDefaults()
	return rec, nil
}

func (p *PageDataProcessor) stub(ctx context.Context, url string) *PageRecord {
	rec, err := p.Pipeline.Derive(ctx, PageDoc{URL: url, Content: PageContent{Title: url}})
	if err != nil || rec == nil {
		return stubRecord(url)
	}
	rec.Text = ""
	if rec.FullTitle == "" {
		rec.FullTitle = url
	}
	rec.fillDefaults()
	return rec
}

// Outcome describes what the enricher did with an entry.
type Outcome string

const (
	OutcomePassthrough Outcome = "passthrough"
	OutcomeEnriched    Outcome = "enriched"
	OutcomeStub        Outcome = "stub"
	OutcomeDeferred    Outcome = "deferred"
	OutcomeRetried     Outcome = "retried"
)

// Enricher fills in missing page data on incoming page-create sync entries.
// It holds no mutable state and may be shared between goroutines.
type Enricher struct {
	pages   *PageDataProcessor
	backlog Backlog
	logger  *slog.Logger
}

type EnricherOptions struct {
	Fetcher  PageFetcher
	Pipeline PagePipeline
	Backlog  Backlog
	Logger   *slog.Logger
}

func NewEnricher(opts EnricherOptions) (*Enricher, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: enricher needs a page fetcher", ErrInvalidConfig)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = NewDefaultPipeline(PipelineOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Enricher{
		pages:   &PageDataProcessor{Fetcher: opts.Fetcher, Pipeline: opts.Pipeline},
		backlog: opts.Backlog,
		logger:  opts.Logger,
	}, nil
}

// Process returns entry unchanged, an enriched copy, a copy carrying a stub record, or nil when
// the page could not be fetched right now and has been put on the backlog. It never fails.
func (e *Enricher) Process(ctx context.Context, entry *SyncLogEntry) *SyncLogEntry {
	out, _ := e.ProcessWithOutcome(ctx, entry)
	return out
}

func (e *Enricher) ProcessWithOutcome(ctx context.Context, entry *SyncLogEntry) (*SyncLogEntry, Outcome) {
	if !entry.IsPageCreate() || entry.HasPageValue() {
		return entry, OutcomePassthrough
	}

	url := entry.Key()
	log := e.logger.With("url", url)

	rec, err := e.pages.Process(ctx, url)
	if err == nil {
		return entry.withPage(rec), OutcomeEnriched
	}
	if FetchErrorKindOf(err) == FetchPermanent {
		log.Debug("page fetch failed permanently, attaching stub", "error", err)
		return entry.withPage(rec), OutcomeStub
	}

	log.Debug("page fetch failed temporarily, deferring to backlog", "error", err)
	if e.backlog != nil {
		// A cancelled caller still gets the URL recorded.
		if qerr := e.backlog.EnqueueEntry(context.WithoutCancel(ctx), url); qerr != nil {
			log.Warn("backlog enqueue failed", "error", qerr)
		}
	}
	return nil, OutcomeDeferred
}
