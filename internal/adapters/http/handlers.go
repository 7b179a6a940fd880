package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jobrunner/mapshell/internal/application"
	"github.com/jobrunner/mapshell/internal/domain"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":         boolToStatus(details.Healthy),
		"ready":          details.Ready,
		"sources_loaded": details.SourcesLoaded,
		"plugins_loaded": details.PluginsLoaded,
		"parsers":        details.Parsers,
		"components":     details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleFormats lists the registered parsers.
func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	f := s.services.Factory
	s.writeJSON(w, http.StatusOK, map[string]any{
		"formats":    f.Formats(),
		"extensions": f.SupportedExtensions(),
		"mime_types": f.SupportedMimeTypes(),
	})
}

// handleListSources returns all sources, optionally filtered by ?type=.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.services.Sources.Sources()
	if name := r.URL.Query().Get("type"); name != "" {
		t, ok := domain.ParseSourceType(name)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source type %q", name))
			return
		}
		sources = s.services.Sources.SourcesByType(t)
	}
	s.writeSources(w, sources)
}

// loadSourceRequest is the body of POST /api/v1/sources.
type loadSourceRequest struct {
	Path   string `json:"path"`
	Reload bool   `json:"reload,omitempty"`
}

// handleLoadSource parses a map file from the data directory.
func (s *Server) handleLoadSource(w http.ResponseWriter, r *http.Request) {
	var req loadSourceRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := s.resolveDataPath(req.Path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	load := s.services.Sources.LoadFile
	if req.Reload {
		load = s.services.Sources.ReloadFile
	}
	src, err := load(r.Context(), path)
	if err != nil {
		s.handleSourceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.formatSource(src))
}

// resolveDataPath resolves p against the data directory and rejects paths
// that leave it.
func (s *Server) resolveDataPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	root := s.services.DataDir
	if root == "" {
		return filepath.Clean(p), nil
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path is outside the data directory")
	}
	return p, nil
}

// handleGetSource returns a single source.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.formatSource(src))
}

// handleRemoveSource unregisters a source.
func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sourceId"]
	if err := s.services.Sources.RemoveSource(id); err != nil {
		s.handleSourceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSourceGeoJSON returns the source content as a FeatureCollection.
func (s *Server) handleSourceGeoJSON(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	renderer, ok := src.(domain.GeoJSONRenderer)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "source has no GeoJSON representation")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(renderer.ToGeoJSON())
}

// handleSourceLayer returns the MapLibre layer of a source.
func (s *Server) handleSourceLayer(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	renderer, ok := src.(domain.LayerRenderer)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "source does not describe a map layer")
		return
	}
	s.writeJSON(w, http.StatusOK, renderer.MapLibreLayer())
}

// handleSourceStyle returns the default style of a vector source.
func (s *Server) handleSourceStyle(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	vector, ok := src.(domain.VectorSource)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "only vector sources have a default style")
		return
	}
	s.writeJSON(w, http.StatusOK, vector.DefaultStyle().Map())
}

// handleTile redirects to the tile URL of a raster source.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	raster, ok := src.(domain.RasterSource)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "source is not tiled")
		return
	}

	vars := mux.Vars(r)
	z, _ := strconv.Atoi(vars["z"])
	x, _ := strconv.Atoi(vars["x"])
	y, _ := strconv.Atoi(vars["y"])
	if z < raster.MinZoom() || z > raster.MaxZoom() || x >= 1<<z || y >= 1<<z {
		s.writeError(w, http.StatusNotFound, "tile out of range")
		return
	}

	url := raster.TileURL(z, x, y)
	if url == "" {
		s.writeError(w, http.StatusNotFound, "tile not available")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleView returns the sources intersecting ?bbox=minLon,minLat,maxLon,maxLat.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeSources(w, s.services.Sources.SourcesInView(view))
}

func parseBBox(raw string) (domain.Extent, error) {
	if raw == "" {
		return domain.Extent{}, errors.New("bbox parameter required: minLon,minLat,maxLon,maxLat")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return domain.Extent{}, errors.New("bbox needs four comma separated numbers")
	}

	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return domain.Extent{}, fmt.Errorf("invalid bbox value %q", part)
		}
		v[i] = f
	}

	for _, c := range []domain.Coordinate{domain.NewCoordinate(v[0], v[1]), domain.NewCoordinate(v[2], v[3])} {
		if err := c.Validate(); err != nil {
			return domain.Extent{}, err
		}
	}
	if v[0] > v[2] || v[1] > v[3] {
		return domain.Extent{}, errors.New("bbox minimum exceeds maximum")
	}
	return domain.NewExtent(v[0], v[1], v[2], v[3]), nil
}

// handleProviders lists the built-in tile providers.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	providers := s.services.Sources.Providers()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"providers": providers,
		"count":     len(providers),
	})
}

// addOnlineRequest is the body of POST /api/v1/online. Either Provider or
// URL is set.
type addOnlineRequest struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	MinZoom  int    `json:"min_zoom,omitempty"`
	MaxZoom  int    `json:"max_zoom,omitempty"`
}

// handleAddOnline registers an online map.
func (s *Server) handleAddOnline(w http.ResponseWriter, r *http.Request) {
	var req addOnlineRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		src domain.OnlineSource
		err error
	)
	switch {
	case req.Provider != "":
		src, err = s.services.Sources.AddProvider(domain.ProviderType(req.Provider), req.APIKey)
	case req.URL != "":
		maxZoom := req.MaxZoom
		if maxZoom == 0 {
			maxZoom = 19
		}
		src, err = s.services.Sources.AddOnlineMap(req.Name, req.URL, req.MinZoom, maxZoom)
		if err == nil && req.APIKey != "" {
			src.SetAPIKey(req.APIKey)
		}
	default:
		s.writeError(w, http.StatusBadRequest, "provider or url is required")
		return
	}
	if err != nil {
		s.handleSourceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.formatSource(src))
}

// handleListPlugins returns every discovered plugin and its state.
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.services.Plugins
	discovered := plugins.Discovered()

	response := make([]map[string]any, len(discovered))
	for i, cand := range discovered {
		state, _ := plugins.State(cand.Info.ID)
		entry := map[string]any{
			"id":           cand.Info.ID,
			"name":         cand.Info.Name,
			"version":      cand.Info.Version,
			"author":       cand.Info.Author,
			"description":  cand.Info.Description,
			"type":         cand.Info.Type,
			"dependencies": cand.Info.Dependencies,
			"path":         cand.Path,
			"state":        state.String(),
			"enabled":      plugins.IsEnabled(cand.Info.ID),
		}
		if ep, err := plugins.EntryPoints(cand.Info.ID); err == nil {
			entry["entry_points"] = ep
		}
		response[i] = entry
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugins": response,
		"count":   len(response),
		"loaded":  plugins.Count(),
	})
}

// handleLoadPlugin loads a plugin and its dependencies.
func (s *Server) handleLoadPlugin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["pluginId"]
	if err := s.services.Plugins.Load(id); err != nil {
		s.handlePluginError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": domain.PluginLoaded.String()})
}

// handleUnloadPlugin shuts a plugin down.
func (s *Server) handleUnloadPlugin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["pluginId"]
	if err := s.services.Plugins.Unload(id); err != nil {
		s.handlePluginError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": domain.PluginUnloaded.String()})
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := openAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// source resolves the {sourceId} route variable and writes a 404 when it is
// unknown.
func (s *Server) source(w http.ResponseWriter, r *http.Request) (domain.MapSource, bool) {
	src, err := s.services.Sources.Source(mux.Vars(r)["sourceId"])
	if err != nil {
		s.handleSourceError(w, err)
		return nil, false
	}
	return src, true
}

func (s *Server) writeSources(w http.ResponseWriter, sources []domain.MapSource) {
	response := make([]map[string]any, len(sources))
	for i, src := range sources {
		response[i] = s.formatSource(src)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sources": response,
		"count":   len(response),
	})
}

// formatSource formats a MapSource for JSON output.
func (s *Server) formatSource(src domain.MapSource) map[string]any {
	out := map[string]any{
		"id":     src.ID(),
		"name":   src.Name(),
		"type":   src.Type().String(),
		"valid":  src.IsValid(),
		"loaded": src.IsLoaded(),
	}
	if bounds := src.Bounds(); !bounds.IsEmpty() {
		out["bounds"] = bounds.BBox()
	}
	if path := s.services.Sources.SourcePath(src.ID()); path != "" {
		out["path"] = path
	}

	switch v := src.(type) {
	case domain.VectorSource:
		out["feature_count"] = v.FeatureCount()
		out["style"] = v.DefaultStyle()
	case domain.OnlineSource:
		out["url_template"] = v.URLTemplate()
		out["attribution"] = v.Attribution()
		out["requires_api_key"] = v.RequiresAPIKey()
		out["min_zoom"] = v.MinZoom()
		out["max_zoom"] = v.MaxZoom()
		out["tile_size"] = v.TileSize()
		out["tile_format"] = v.TileFormat()
	case domain.RasterSource:
		out["min_zoom"] = v.MinZoom()
		out["max_zoom"] = v.MaxZoom()
		out["tile_size"] = v.TileSize()
		out["tile_format"] = v.TileFormat()
	}
	return out
}

// handleSourceError maps source and parse errors to HTTP statuses.
func (s *Server) handleSourceError(w http.ResponseWriter, err error) {
	var parseErr *domain.ParseError
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &parseErr):
		s.writeError(w, http.StatusUnprocessableEntity, parseErr.Error())
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrUnsupportedFormat):
		s.writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, domain.ErrDuplicate):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("source error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Source operation failed")
	}
}

// handlePluginError maps plugin manager errors to HTTP statuses.
func (s *Server) handlePluginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPluginNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDependency):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrCapability):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("plugin error", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a bounded JSON body into v.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
