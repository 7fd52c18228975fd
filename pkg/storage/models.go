package storage

import (
	"time"
)

// Source classifies which root an asset was indexed under.
const (
	SourceOutput = "output"
	SourceInput  = "input"
	SourceCustom = "custom"
)

// Asset kinds, derived from the file extension and immutable for a given
// filepath.
const (
	KindImage   = "image"
	KindVideo   = "video"
	KindAudio   = "audio"
	KindModel3D = "model3d"
)

// Hash states for content/perceptual hashes.
const (
	HashStateNone     = "none"
	HashStateComputed = "computed"
	HashStateFailed   = "failed"
)

// Metadata quality tags.
const (
	QualityFull     = "full"
	QualityPartial  = "partial"
	QualityDegraded = "degraded"
	QualityNone     = "none"
)

// Asset is one indexed file on disk. Filepath is the canonical,
// case-normalized absolute path and is unique.
type Asset struct {
	ID             int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Filepath       string   `gorm:"uniqueIndex;not null" json:"filepath"`
	Filename       string   `gorm:"index;not null" json:"filename"`
	Subfolder      string   `gorm:"index" json:"subfolder"`
	Source         string   `gorm:"index;not null;default:output" json:"source"`
	RootID         string   `gorm:"index;size:36" json:"root_id,omitempty"`
	Kind           string   `gorm:"index;not null" json:"kind"`
	Ext            string   `gorm:"index;size:16" json:"ext"`
	SizeBytes      int64    `json:"size_bytes"`
	Mtime          float64  `gorm:"index" json:"mtime"`
	MtimeNs        int64    `json:"-"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	ContentHash    string   `gorm:"index;size:64" json:"content_hash,omitempty"`
	PerceptualHash string   `gorm:"size:16" json:"perceptual_hash,omitempty"`
	HashState      string   `gorm:"size:16;default:none" json:"hash_state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IndexedAt time.Time `json:"indexed_at"`
}

// TableName returns the table name for Asset.
func (Asset) TableName() string { return "assets" }

// AssetMetadata is the 1:1 enrichment row for an Asset. The foreign key
// cascades so metadata never outlives its asset.
type AssetMetadata struct {
	AssetID           int64  `gorm:"primaryKey" json:"asset_id"`
	Rating            int    `gorm:"default:0" json:"rating"`
	Tags              string `gorm:"default:'[]'" json:"tags"` // JSON array, ordered, deduped
	TagsText          string `json:"-"`                        // denormalized for FTS
	WorkflowHash      string `gorm:"size:64" json:"workflow_hash,omitempty"`
	HasWorkflow       bool   `json:"has_workflow"`
	HasGenerationData bool   `json:"has_generation_data"`
	MetadataQuality   string `gorm:"size:16;default:none" json:"metadata_quality"`
	Raw               []byte `json:"-"` // opaque extractor payload, bounded

	UpdatedAt time.Time `json:"updated_at"`

	Asset *Asset `gorm:"foreignKey:AssetID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for AssetMetadata.
func (AssetMetadata) TableName() string { return "asset_metadata" }

// ScanJournalEntry records the filesystem state last seen for a filepath so
// incremental scans can skip unchanged files cheaply.
type ScanJournalEntry struct {
	Filepath  string    `gorm:"primaryKey" json:"filepath"`
	DirPath   string    `gorm:"index" json:"dir_path"`
	StateHash string    `gorm:"size:20" json:"state_hash"`
	Mtime     float64   `json:"mtime"`
	Size      int64     `json:"size"`
	LastSeen  time.Time `json:"last_seen"`
}

// TableName returns the table name for ScanJournalEntry.
func (ScanJournalEntry) TableName() string { return "scan_journal" }

// Setting is one key/value pair of the versioned settings store.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string { return "settings" }

// AllModels returns every model migrated by the engine, in dependency
// order.
func AllModels() []any {
	return []any{
		&Asset{},
		&AssetMetadata{},
		&ScanJournalEntry{},
		&Setting{},
	}
}
