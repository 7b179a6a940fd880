package output

import "github.com/jobrunner/mapshell/internal/domain"

// TileProviders creates online tile sources.
type TileProviders interface {
	// List returns the built-in providers.
	List() []domain.ProviderInfo

	// Create builds a source for a built-in provider. Providers that require
	// an API key fail with domain.ErrAPIKeyRequired when apiKey is empty.
	Create(t domain.ProviderType, apiKey string) (domain.OnlineSource, error)

	// CreateCustom builds a source from a URL template.
	CreateCustom(name, urlTemplate string, minZoom, maxZoom int, attribution string) (domain.OnlineSource, error)
}
