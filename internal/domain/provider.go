package domain

// ProviderType identifies a built-in online tile provider.
type ProviderType string

// Built-in providers.
const (
	ProviderOpenStreetMap ProviderType = "openstreetmap"
	ProviderOpenFreeMap   ProviderType = "openfreemap"
	ProviderMapTiler      ProviderType = "maptiler"
	ProviderBingMaps      ProviderType = "bing"
	ProviderEsriImagery   ProviderType = "esri-imagery"
	ProviderCartoDB       ProviderType = "cartodb"
	ProviderCustom        ProviderType = "custom"
)

// ProviderInfo describes an online tile provider.
type ProviderInfo struct {
	Type           ProviderType `json:"type"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	URLTemplate    string       `json:"url_template"`
	Attribution    string       `json:"attribution"`
	TermsURL       string       `json:"terms_url"`
	MinZoom        int          `json:"min_zoom"`
	MaxZoom        int          `json:"max_zoom"`
	RequiresAPIKey bool         `json:"requires_api_key"`
}

