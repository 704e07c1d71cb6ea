package entity

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// EntryStatus is the lifecycle state of a queue entry.
type EntryStatus string

const (
	// StatusPending marks entries awaiting publication.
	StatusPending EntryStatus = "pending"
	// StatusPosted marks entries that were published. Terminal.
	StatusPosted EntryStatus = "posted"
)

// QueueEntry is one news item from first ingestion through publication.
// Fingerprint is unique across all entries. Status moves pending->posted
// exactly once; PostedAt is nil until then.
type QueueEntry struct {
	ID              uuid.UUID   `json:"id"`
	Fingerprint     string      `json:"fingerprint"`
	Item            NewsItem    `json:"item"`
	RenderedContent string      `json:"rendered_content"`
	Status          EntryStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	PostedAt        *time.Time  `json:"posted_at,omitempty"`
}

func (e *QueueEntry) String() string {
	return fmt.Sprintf("ID: %v, Fingerprint: %s, Status: %s, CreatedAt: %v", e.ID, e.Fingerprint, e.Status, e.CreatedAt)
}

// NewQueueEntry builds a pending entry for a freshly ingested item.
func NewQueueEntry(item NewsItem, renderedContent string, createdAt time.Time) (*QueueEntry, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &QueueEntry{
		ID:              id,
		Fingerprint:     item.Fingerprint(),
		Item:            item,
		RenderedContent: renderedContent,
		Status:          StatusPending,
		CreatedAt:       createdAt,
	}, nil
}

// PublishLogRecord is an append-only audit record of one successful publish.
// The rate limiter derives the sliding window usage from these.
type PublishLogRecord struct {
	EntryID  uuid.UUID `json:"entry_id"`
	PostedAt time.Time `json:"posted_at"`
}
