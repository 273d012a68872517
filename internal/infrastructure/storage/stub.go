package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StubRawArchive keeps payloads in memory. Use it for development and tests
// until a real S3-compatible backend is configured; references still flow
// through the pipeline so RawReference handling is exercised end to end.
type StubRawArchive struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

// NewStubRawArchive creates an in-memory raw archive
func NewStubRawArchive() *StubRawArchive {
	return &StubRawArchive{payloads: make(map[string][]byte)}
}

// Store keeps the payload in memory and returns a mem:// reference
func (a *StubRawArchive) Store(_ context.Context, sourceID, name string, body []byte) (string, error) {
	if sourceID == "" || name == "" {
		return "", errors.New("archive key requires source and name")
	}

	key := sourceID + "/" + name
	a.mu.Lock()
	a.payloads[key] = append([]byte(nil), body...)
	a.mu.Unlock()

	return fmt.Sprintf("mem://%s", key), nil
}

// Get returns a stored payload, for test assertions
func (a *StubRawArchive) Get(sourceID, name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.payloads[sourceID+"/"+name]
	return body, ok
}
