// Package model defines the domain types used across the application.
package model

import "time"

// Target represents a web page monitored for content changes on behalf of a chat.
type Target struct {
	ID              int64
	ChatID          int64
	URL             string
	Fingerprint     string
	IntervalMinutes int
	QuietHours      bool
	LastCheckAt     *time.Time
	CreatedAt       time.Time
}

// FileType classifies an extracted file by its extension.
type FileType string

// Supported file types.
const (
	TypeDocument FileType = "document"
	TypeImage    FileType = "image"
	TypeAudio    FileType = "audio"
	TypeVideo    FileType = "video"
)

// ExtractedFile is a downloadable link found on a monitored page.
// It lives only for the duration of one poll cycle; only its URL is
// persisted, as part of the target's seen set.
type ExtractedFile struct {
	Name string
	URL  string
	Type FileType
}

// SeenFile records a file URL that was already delivered for a target.
type SeenFile struct {
	TargetID int64
	URL      string
	SeenAt   time.Time
}
