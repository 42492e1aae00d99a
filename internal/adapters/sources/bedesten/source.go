// Package bedesten is the Yargıtay decision source backed by the Bedesten search API
package bedesten

import (
	"context"
	"time"

	"github.com/nuxxor/Mevzubase/internal/adapters/sources"
	"github.com/nuxxor/Mevzubase/internal/core/decision"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/planner"
)

// Name is the connector name queues and runs are scoped by
const Name = "yargitay"

// Source implements domain.Source
type Source struct {
	opts    Options
	c       *client
	plan    *planner.Planner
	chunker decision.Chunker
	now     func() time.Time
}

var _ domain.Source = (*Source)(nil)

// New validates o and builds the source
func New(o Options) (*Source, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	c, err := newClient(o)
	if err != nil {
		return nil, err
	}
	s := &Source{opts: o, c: c, chunker: decision.DefaultChunker(), now: time.Now}
	s.plan = planner.New(s, planner.Config{
		MaxRows:   o.MaxRows,
		PageSize:  o.PageSize,
		FirstPage: 1,
		AltPage:   0,
	})
	return s, nil
}

// Factory registers the source with the connector registry
func Factory(cfg config.Conf) (domain.Source, error) {
	return New(FromConfig(cfg))
}

// Name implements domain.Source
func (s *Source) Name() string { return Name }

// Chunk splits the decision by section under its anchor
func (s *Source) Chunk(_ context.Context, doc domain.CanonDoc) ([]domain.Chunk, error) {
	return sources.DecisionChunks(doc, s.chunker), nil
}
