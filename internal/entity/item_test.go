package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintPrefersArchiveID(t *testing.T) {
	item := NewsItem{
		Identifier: "CHUNITHM_JP",
		Content:    "New songs added",
		Date:       "2024-05-01",
		ArchiveID:  "a1b2c3",
	}
	assert.Equal(t, "a1b2c3", item.Fingerprint())
}

func TestFingerprintDigestOfIdentityFields(t *testing.T) {
	item := NewsItem{
		Identifier: "CHUNITHM_JP",
		Headline:   "Update",
		Content:    "New songs added",
		Date:       "2024-05-01",
		URL:        "https://example.com/news/1",
	}
	sum := sha256.Sum256([]byte("CHUNITHM_JPNew songs added2024-05-01"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, item.Fingerprint())

	// Presentation metadata does not change identity.
	item.Headline = "Changed headline"
	item.URL = "https://example.com/news/2"
	assert.Equal(t, want, item.Fingerprint())

	// Identity fields do.
	item.Content = "Different content"
	assert.NotEqual(t, want, item.Fingerprint())
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	item := NewsItem{Identifier: "IIDX", Content: "c", Date: "2024-01-01"}
	assert.Equal(t, item.Fingerprint(), item.Fingerprint())
}
