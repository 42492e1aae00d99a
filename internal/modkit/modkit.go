package modkit

import (
	phttp "github.com/nuxxor/Mevzubase/internal/platform/net/http"
)

// Module is the common surface for service modules
type Module interface {
	// Ports returns a module specific port set for cross wiring
	Ports() any

	// Name returns the module name
	Name() string
}

// Routed is implemented by modules that expose read-only status routes
type Routed interface {
	Module
	MountRoutes(r phttp.Router)
}
