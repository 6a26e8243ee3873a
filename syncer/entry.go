package syncer

import "strings"

type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

const (
	CollectionPages       = "pages"
	CollectionBookmarks   = "bookmarks"
	CollectionVisits      = "visits"
	CollectionTags        = "tags"
	CollectionAnnotations = "annotations"
)

// SyncLogEntry is one mutation recorded in the sync log, as received from a peer.
type SyncLogEntry struct {
	Operation  Operation  `json:"operation"`
	Collection string     `json:"collection"`
	PK         string     `json:"pk"`
	CreatedOn  int64      `json:"createdOn,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
	Data       *EntryData `json:"data,omitempty"`
}

type EntryData struct {
	PK    string      `json:"pk,omitempty"`
	Value *PageRecord `json:"value,omitempty"`
}

// PageRecord is the normalized, indexable form of a fetched page.
// The term slices are never nil once a record leaves the pipeline.
type PageRecord struct {
	URL        string   `json:"url"`
	FullURL    string   `json:"fullUrl"`
	FullTitle  string   `json:"fullTitle"`
	Domain     string   `json:"domain"`
	Hostname   string   `json:"hostname"`
	Tags       []string `json:"tags"`
	Terms      []string `json:"terms"`
	URLTerms   []string `json:"urlTerms"`
	TitleTerms []string `json:"titleTerms"`
	Text       string   `json:"text,omitempty"`
}

// Key returns the entity key, preferring data.pk over the entry's own pk.
func (e *SyncLogEntry) Key() string {
	if e == nil {
		return ""
	}
	if e.Data != nil && strings.TrimSpace(e.Data.PK) != "" {
		return e.Data.PK
	}
	return e.PK
}

func (e *SyncLogEntry) IsPageCreate() bool {
	return e != nil && e.Operation == OpCreate && e.Collection == CollectionPages
}

// HasPageValue reports whether the entry already carries a derived page record.
func (e *SyncLogEntry) HasPageValue() bool {
	return e != nil && e.Data != nil && !e.Data.Value.isEmpty()
}

// withPage returns a copy of e carrying rec in data.value.
func (e *SyncLogEntry) withPage(rec *PageRecord) *SyncLogEntry {
	out := *e
	data := EntryData{}
	if e.Data != nil {
		data = *e.Data
	}
	if data.PK == "" {
		data.PK = e.Key()
	}
	data.Value = rec
	out.Data = &data
	return &out
}

func (p *PageRecord) isEmpty() bool {
	if p == nil {
		return true
	}
	return p.URL == "" && p.FullURL == "" && p.FullTitle == "" && p.Text == ""
}

// fillDefaults replaces nil term slices with empty ones.
func (p *PageRecord) fillDefaults() {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Terms == nil {
		p.Terms = []string{}
	}
	if p.URLTerms == nil {
		p.URLTerms = []string{}
	}
	if p.TitleTerms == nil {
		p.TitleTerms = []string{}
	}
}

// stubRecord identifies a page by its URL alone.
func stubRecord(url string) *PageRecord {
	rec := &PageRecord{
		URL:       url,
		FullURL:   url,
		FullTitle: url,
		Domain:    url,
		Hostname:  url,
	}
	rec.fillDefaults()
	return rec
}
