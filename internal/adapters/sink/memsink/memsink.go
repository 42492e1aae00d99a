// Package memsink keeps decision versions in process memory for --store=memory runs and tests
package memsink

import (
	"context"
	"sort"
	"sync"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Sink implements domain.DocumentSink
type Sink struct {
	mu       sync.RWMutex
	versions map[string][]domain.CanonDoc
	chunks   map[string][]domain.Chunk
}

var _ domain.DocumentSink = (*Sink)(nil)

// New returns an empty sink
func New() *Sink {
	return &Sink{versions: map[string][]domain.CanonDoc{}, chunks: map[string][]domain.Chunk{}}
}

// Current returns the newest version of docID
func (s *Sink) Current(_ context.Context, docID string) (string, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[docID]
	if len(vs) == 0 {
		return "", 0, false, nil
	}
	cur := vs[len(vs)-1]
	return cur.Checksum, cur.Version, true, nil
}

// Persist appends doc as the current version; a version that is not newer is a retryable conflict
func (s *Sink) Persist(_ context.Context, doc domain.CanonDoc, chunks []domain.Chunk) error {
	if doc.DocID == "" || doc.Version < 1 || doc.Checksum == "" {
		return perr.Newf(perr.ErrorCodeValidation, "persist: doc id, version and checksum are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[doc.DocID]
	if n := len(vs); n > 0 && vs[n-1].Version >= doc.Version {
		return perr.Unavailablef("document %s: version %d already stored (latest %d)", doc.DocID, doc.Version, vs[n-1].Version)
	}
	for i := range vs {
		vs[i].IsCurrent = false
	}
	doc.IsCurrent = true
	s.versions[doc.DocID] = append(vs, doc)
	s.chunks[doc.DocID] = append(s.chunks[doc.DocID], chunks...)
	return nil
}

// Versions returns every stored version of docID, oldest first
func (s *Sink) Versions(docID string) []domain.CanonDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CanonDoc(nil), s.versions[docID]...)
}

// Chunks returns the stored chunks of one version
func (s *Sink) Chunks(docID string, version int) []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chunk
	for _, c := range s.chunks[docID] {
		if c.Version == version {
			out = append(out, c)
		}
	}
	return out
}

// DocIDs lists stored documents, sorted
func (s *Sink) DocIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.versions))
	for id := range s.versions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
