// Package models defines the migration data model shared across phases.
package models

import "strings"

// Status tracks a page's progress through the migration pipeline.
// Pages only move forward (pending → exported → converted → uploaded)
// or to failed; a record never returns to pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExported  Status = "exported"
	StatusConverted Status = "converted"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// statusRank orders statuses along the forward transition path.
// Failed is deliberately absent: it never satisfies a phase target.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusExported:  1,
	StatusConverted: 2,
	StatusUploaded:  3,
}

// AtLeast reports whether s already satisfies the target status.
// A failed record satisfies nothing and is eligible for forced re-runs.
func (s Status) AtLeast(target Status) bool {
	r, ok := statusRank[s]
	if !ok {
		return false
	}
	t, ok := statusRank[target]
	if !ok {
		return false
	}
	return r >= t
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExported, StatusConverted, StatusUploaded, StatusFailed:
		return true
	}
	return false
}

// PageRecord is the durable per-page migration record. JSON field names
// match the on-disk state file format.
type PageRecord struct {
	ID          string       `json:"page_id"`
	Title       string       `json:"title"`
	SpaceKey    string       `json:"space_key"`
	ParentID    string       `json:"parent_id,omitempty"`
	Homepage    bool         `json:"homepage,omitempty"`
	HasChildren bool         `json:"has_children"`
	Status      Status       `json:"status"`
	ExportPath  string       `json:"export_path,omitempty"`
	ConvertPath string       `json:"convert_path,omitempty"`
	UploadPath  string       `json:"upload_path,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Comments    []Comment    `json:"comments"`
}

// NewPageRecord creates a record in the initial pending state.
func NewPageRecord(id, title, spaceKey, parentID string, hasChildren bool) *PageRecord {
	return &PageRecord{
		ID:          id,
		Title:       title,
		SpaceKey:    spaceKey,
		ParentID:    parentID,
		HasChildren: hasChildren,
		Status:      StatusPending,
		Attachments: []Attachment{},
		Comments:    []Comment{},
	}
}

// Fail marks the record failed with the given reason.
func (p *PageRecord) Fail(err error) {
	p.Status = StatusFailed
	if err != nil {
		p.Error = err.Error()
	}
}

// Attachment describes one file attached to a page.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"title"`
	MediaType   string `json:"mediaType"`
	Size        int64  `json:"size,omitempty"`
	DownloadURL string `json:"-"`
	LocalPath   string `json:"local_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IsImage reports whether the attachment renders as an inline image.
// The decision is made on the declared MIME type, not the filename:
// Confluence wraps video and audio uploads in image markup, and those
// must end up in the attachment list instead.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType, "image/")
}

// Comment is one flat footer comment on a page. BodyHTML is converted
// to Markdown independently of the page body.
type Comment struct {
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	BodyHTML  string `json:"body_html"`
}

// PageExport is the full payload captured during the export phase and
// written to disk as JSON, one file per page.
type PageExport struct {
	ID          string       `json:"page_id"`
	Title       string       `json:"title"`
	SpaceKey    string       `json:"space_key"`
	ParentID    string       `json:"parent_id,omitempty"`
	Homepage    bool         `json:"homepage,omitempty"`
	HasChildren bool         `json:"has_children"`
	BodyHTML    string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	Comments    []Comment    `json:"comments"`
}
