// Package sources holds the connector registry and the helpers shared by decision sources
package sources

import (
	"sort"
	"sync"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Factory builds a source from its env namespace
type Factory func(cfg config.Conf) (domain.Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a factory under name, replacing any previous one
func Register(name string, f Factory) {
	if name == "" || f == nil {
		panic("sources: Register needs a name and a factory")
	}
	mu.Lock()
	factories[name] = f
	mu.Unlock()
}

// Open builds the source registered as name
func Open(name string, cfg config.Conf) (domain.Source, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, perr.InvalidArgf("unknown connector %q (known: %v)", name, Names())
	}
	src, err := f(cfg)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "open connector %s", name)
	}
	return src, nil
}

// Names lists the registered connectors, sorted
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Reset clears the registry for tests
func Reset() {
	mu.Lock()
	factories = map[string]Factory{}
	mu.Unlock()
}
