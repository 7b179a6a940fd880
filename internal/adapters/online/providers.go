package online

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jobrunner/mapshell/internal/domain"
)

var builtin = []domain.ProviderInfo{
	{
		Type:        domain.ProviderOpenStreetMap,
		Name:        "OpenStreetMap",
		Description: "Community-driven world map",
		URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
		TermsURL:    "https://www.openstreetmap.org/copyright",
		MinZoom:     0,
		MaxZoom:     19,
	},
	{
		Type:        domain.ProviderOpenFreeMap,
		Name:        "OpenFreeMap",
		Description: "Free hosted OpenStreetMap tiles",
		URLTemplate: "https://tiles.openfreemap.org/styles/liberty/{z}/{x}/{y}.png",
		Attribution: "© OpenFreeMap, © OpenStreetMap contributors",
		TermsURL:    "https://openfreemap.org/",
		MinZoom:     0,
		MaxZoom:     19,
	},
	{
		Type:           domain.ProviderMapTiler,
		Name:           "MapTiler",
		Description:    "Global street maps (API key required)",
		URLTemplate:    "https://api.maptiler.com/maps/streets-v2/{z}/{x}/{y}.png?key={key}",
		Attribution:    "© MapTiler © OpenStreetMap contributors",
		TermsURL:       "https://www.maptiler.com/cloud/terms/",
		MinZoom:        0,
		MaxZoom:        20,
		RequiresAPIKey: true,
	},
	{
		Type:           domain.ProviderBingMaps,
		Name:           "Bing Maps",
		Description:    "Microsoft aerial imagery (API key required)",
		URLTemplate:    "https://dev.virtualearth.net/REST/v1/Imagery/Metadata/Aerial/{z}?key={key}",
		Attribution:    "© Microsoft",
		TermsURL:       "https://www.microsoft.com/maps/product/terms.html",
		MinZoom:        0,
		MaxZoom:        20,
		RequiresAPIKey: true,
	},
	{
		Type:        domain.ProviderEsriImagery,
		Name:        "ESRI World Imagery",
		Description: "Esri global satellite imagery",
		URLTemplate: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		Attribution: "© Esri, DigitalGlobe, GeoEye, Earthstar Geographics",
		TermsURL:    "https://www.esri.com/en-us/legal/terms/full-master-agreement",
		MinZoom:     0,
		MaxZoom:     19,
	},
	{
		Type:        domain.ProviderCartoDB,
		Name:        "CartoDB Positron",
		Description: "Light minimal basemap",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}.png",
		Attribution: "© CartoDB © OpenStreetMap contributors",
		TermsURL:    "https://carto.com/legal/",
		MinZoom:     0,
		MaxZoom:     19,
	},
}

// Providers creates tile sources for the built-in providers and for custom
// templates.
type Providers struct {
	logger *slog.Logger
	byType map[domain.ProviderType]domain.ProviderInfo
	newID  func() string
}

// NewProviders creates the provider catalog.
func NewProviders(logger *slog.Logger) *Providers {
	byType := make(map[domain.ProviderType]domain.ProviderInfo, len(builtin))
	for _, info := range builtin {
		byType[info.Type] = info
	}
	return &Providers{logger: logger, byType: byType, newID: uuid.NewString}
}

// List returns the built-in providers in catalog order.
func (p *Providers) List() []domain.ProviderInfo {
	out := make([]domain.ProviderInfo, len(builtin))
	copy(out, builtin)
	return out
}

// Names returns the display names of the built-in providers.
func (p *Providers) Names() []string {
	names := make([]string, len(builtin))
	for i, info := range builtin {
		names[i] = info.Name
	}
	return names
}

// Info returns the description of a built-in provider.
func (p *Providers) Info(t domain.ProviderType) (domain.ProviderInfo, error) {
	info, ok := p.byType[t]
	if !ok {
		return domain.ProviderInfo{}, fmt.Errorf("%q: %w", t, domain.ErrProviderNotFound)
	}
	return info, nil
}

// Create builds a tile source for a built-in provider. A provider that
// requires an API key is rejected when apiKey is empty.
func (p *Providers) Create(t domain.ProviderType, apiKey string) (domain.OnlineSource, error) {
	info, err := p.Info(t)
	if err != nil {
		p.logger.Warn("unknown tile provider", "type", t)
		return nil, err
	}
	if info.RequiresAPIKey && apiKey == "" {
		p.logger.Warn("api key required for tile provider", "provider", info.Name)
		return nil, fmt.Errorf("%s: %w", info.Name, domain.ErrAPIKeyRequired)
	}

	src := NewTileSource(p.newID(), info.Name, info.URLTemplate, info.MinZoom, info.MaxZoom,
		WithAttribution(info.Attribution),
		WithTermsURL(info.TermsURL),
		WithAPIKey(info.RequiresAPIKey, apiKey),
	)
	p.logger.Debug("created tile provider", "provider", info.Name, "id", src.ID())
	return src, nil
}

// CreateCustom builds a tile source from a user supplied template.
func (p *Providers) CreateCustom(name, urlTemplate string, minZoom, maxZoom int, attribution string) (domain.OnlineSource, error) {
	if urlTemplate == "" {
		return nil, fmt.Errorf("url template: %w", domain.ErrInvalidInput)
	}
	if minZoom < 0 || maxZoom < minZoom {
		return nil, &domain.ValidationError{
			Field:      "zoom",
			Value:      fmt.Sprintf("%d-%d", minZoom, maxZoom),
			Constraint: "0 <= min_zoom <= max_zoom",
			Message:    "invalid zoom range",
		}
	}
	src := NewTileSource(p.newID(), name, urlTemplate, minZoom, maxZoom, WithAttribution(attribution))
	p.logger.Debug("created custom tile provider", "name", name, "id", src.ID())
	return src, nil
}
