package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewsItem is a single record pulled from the arcade news feed.
// Identifier, Content and Date are the stable identity fields, everything
// else is presentation metadata. Headline and Type may be empty.
type NewsItem struct {
	Identifier string      `json:"identifier"`
	Headline   string      `json:"headline,omitempty"`
	Type       string      `json:"type,omitempty"`
	Content    string      `json:"content"`
	Date       string      `json:"date"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	URL        string      `json:"url,omitempty"`
	Images     []NewsImage `json:"images,omitempty"`
	// ArchiveID is the permanent archive identifier assigned by the feed.
	// Empty for feed variants that don't archive.
	ArchiveID string `json:"archive,omitempty"`
}

// NewsImage references one attached image.
type NewsImage struct {
	Image string `json:"image"`
}

func (i *NewsItem) String() string {
	return fmt.Sprintf("Identifier: %s, Date: %s, Type: %s", i.Identifier, i.Date, i.Type)
}

// Fingerprint returns the dedup token for the item. The feed's permanent
// archive identifier is used when present, since it survives content edits.
// Otherwise the token is the SHA-256 digest of the identity fields, which is
// stable across runs for the same logical item.
func (i *NewsItem) Fingerprint() string {
	if i.ArchiveID != "" {
		return i.ArchiveID
	}
	sum := sha256.Sum256([]byte(i.Identifier + i.Content + i.Date))
	return hex.EncodeToString(sum[:])
}
