// Package model contains simple struct definitions shared across packages.
package model

import (
	"path"
	"time"
)

// AssetRecord holds metadata about a stored audio file. RelativePath is always
// slash separated and relative to the storage root so rows stay portable
// between backends.
type AssetRecord struct {
	ID               int64     `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StorageFilename  string    `json:"-"`
	RelativePath     string    `json:"-"`
	MimeType         string    `json:"mime_type"`
	SizeBytes        int64     `json:"file_size"`
	UploadedAt       time.Time `json:"upload_date"`
}

// StoragePath addresses a file inside the storage root. Partition is the
// YYYY/MM directory, Filename is unique inside it.
type StoragePath struct {
	Partition string
	Filename  string
}

// Relative joins the partition and filename with forward slashes.
func (p StoragePath) Relative() string {
	return path.Join(p.Partition, p.Filename)
}

// UserRecord mirrors a row in the users table.
type UserRecord struct {
	ID         int64  `json:"id"`
	FirebaseID string `json:"firebase_id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
}

// CompositionRecord mirrors a row in the compositions table.
type CompositionRecord struct {
	ID             int64  `json:"id"`
	Info           string `json:"info"`
	CreatingUserID string `json:"creating_user_id"`
}
