package application

import (
	"context"

	"github.com/jobrunner/mapshell/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	factory *ParserFactory
	sources *SourceManager
	plugins *PluginManager
}

// NewHealthService creates a new health service.
func NewHealthService(factory *ParserFactory, sources *SourceManager, plugins *PluginManager) *HealthService {
	return &HealthService{
		factory: factory,
		sources: sources,
		plugins: plugins,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true once at least one parser is registered. Without
// parsers no file can be loaded.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.factory.Count() > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"parsers": "ok",
		"sources": "ok",
		"plugins": "ok",
	}
	if s.factory.Count() == 0 {
		components["parsers"] = "none registered"
	}

	details := input.HealthDetails{
		Healthy:       s.IsHealthy(ctx),
		Ready:         s.IsReady(ctx),
		SourcesLoaded: s.sources.Count(),
		Parsers:       s.factory.Count(),
		Components:    components,
	}
	if s.plugins != nil {
		details.PluginsLoaded = s.plugins.Count()
	} else {
		components["plugins"] = "disabled"
	}
	return details
}

// SourceHealth contains health info for a single source.
type SourceHealth struct {
	ID     string
	Name   string
	Type   string
	Valid  bool
	Loaded bool
}

// GetSourceHealth returns health info for all sources.
func (s *HealthService) GetSourceHealth(_ context.Context) []SourceHealth {
	sources := s.sources.Sources()
	out := make([]SourceHealth, len(sources))
	for i, src := range sources {
		out[i] = SourceHealth{
			ID:     src.ID(),
			Name:   src.Name(),
			Type:   src.Type().String(),
			Valid:  src.IsValid(),
			Loaded: src.IsLoaded(),
		}
	}
	return out
}
