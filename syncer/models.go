package syncer

import "time"

// BacklogEntry is a page URL waiting for another fetch attempt.
type BacklogEntry struct {
	ID            uint      `gorm:"primaryKey"`
	URL           string    `gorm:"uniqueIndex;size:2048"`
	Attempts      int       `gorm:"not null;default:0"`
	EnqueuedAt    time.Time `gorm:"index"`
	NextAttemptAt time.Time `gorm:"index"`
	LastError     string    `gorm:"type:text"`
}

func (BacklogEntry) TableName() string { return "page_fetch_backlog" }

// ProcessedBatch records a sync-log batch file that has been ingested.
type ProcessedBatch struct {
	ID          uint   `gorm:"primaryKey"`
	Path        string `gorm:"uniqueIndex:uniq_batch_path_sha;size:1024"`
	SHA256      string `gorm:"uniqueIndex:uniq_batch_path_sha;size:64"`
	SizeBytes   int64
	ModUnixNano int64
	RunID       string    `gorm:"index;size:36"`
	ProcessedAt time.Time `gorm:"index"`
	Entries     int
	Enriched    int
	Stubbed     int
	Deferred    int
	AllDone     bool `gorm:"index"`
	Deleted     bool `gorm:"index"`
	DeletedAt   *time.Time
	LastError   string `gorm:"type:text"`
}

// StoredEntry is one entry of the post-receive output stream.
type StoredEntry struct {
	ID         uint      `gorm:"primaryKey"`
	StoredAt   time.Time `gorm:"index"`
	SourcePath string    `gorm:"index;size:1024"`
	BatchSHA   string    `gorm:"column:batch_sha256;index;size:64"`
	EntryIndex int       `gorm:"index"`
	Operation  string    `gorm:"index;size:16"`
	Collection string    `gorm:"index;size:64"`
	PK         string    `gorm:"index;size:2048"`
	Outcome    string    `gorm:"index;size:16"` // passthrough, enriched, stub, retried
	EntryJSON  string    `gorm:"type:text"`
}

// PageRow is the latest derived record per page URL.
type PageRow struct {
	URL         string `gorm:"primaryKey;size:2048"`
	FullURL     string `gorm:"size:2048"`
	FullTitle   string `gorm:"type:text"`
	Domain      string `gorm:"index;size:255"`
	Hostname    string `gorm:"index;size:255"`
	Text        string `gorm:"type:text"`
	TermsJSON   string `gorm:"type:text"`
	ContentHash string `gorm:"index;size:64"`
	Stub        bool   `gorm:"index"`
	UpdatedAt   time.Time
}

func (PageRow) TableName() string { return "pages" }
