// Package gossip persists anonymized gossip recordings in SQLite.
package gossip

import "time"

// Record is one stored gossip recording.
type Record struct {
	ID             int64
	AudioPath      string
	OriginalText   string
	AnonymizedText string
	CreatedAt      time.Time
	SizeBytes      int64
	Active         bool
}
