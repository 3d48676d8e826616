// Package transcript records the conversation observed during a test run. Entries can
// be kept in memory for inspection within a test or persisted to disk so a run leaves
// a record that can be compared against a prior one
package transcript

import (
	"time"
)

// Entry directions
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Entry is one recorded message exchange. Sent entries are messages the bot under test
// sent, received entries are messages fed to it
type Entry struct {
	Seq       int64     `json:"seq"`
	Direction string    `json:"direction"`
	ChannelID string    `json:"channelId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder is implemented by transcript storage backends
type Recorder interface {
	// Record appends an entry to the transcript
	Record(entry Entry) (err error)

	// Entries returns all recorded entries in sequence order
	Entries() (entries []Entry, err error)

	// Close closes the recorder and flushes anything pending
	Close() (err error)
}
