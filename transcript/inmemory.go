package transcript

import (
	"sync"
)

// InMemory implements the Recorder interface and keeps a copy of the transcript in
// memory while writing through records to the wrapped (persistent) Recorder. With a
// nil wrapped recorder it acts as a purely in-memory transcript
type InMemory struct {
	mu                 sync.Mutex
	persistentRecorder Recorder
	entries            []Entry
}

// NewInMemory returns a new instance of InMemory wrapping the persistent Recorder.
// Note that instantiation might have some latency induced by the initial load of the
// current transcript content from the persistent recorder in memory
func NewInMemory(recorder Recorder) (imr *InMemory, err error) {
	imr = new(InMemory)
	imr.persistentRecorder = recorder
	imr.entries = []Entry{}

	if recorder != nil {
		imr.entries, err = recorder.Entries()
		if err != nil {
			return nil, err
		}
	}

	return imr, nil
}

// Record appends the entry. The entry is persisted to the wrapped recorder and also
// kept in memory
func (imr *InMemory) Record(entry Entry) (err error) {
	if imr.persistentRecorder != nil {
		if err = imr.persistentRecorder.Record(entry); err != nil {
			return err
		}
	}

	imr.mu.Lock()
	defer imr.mu.Unlock()
	imr.entries = append(imr.entries, entry)

	return nil
}

// Entries returns the in-memory copy of the transcript
func (imr *InMemory) Entries() (entries []Entry, err error) {
	imr.mu.Lock()
	defer imr.mu.Unlock()

	return append([]Entry{}, imr.entries...), nil
}

// Close closes the wrapped recorder, if any
func (imr *InMemory) Close() (err error) {
	if imr.persistentRecorder != nil {
		return imr.persistentRecorder.Close()
	}

	return nil
}
