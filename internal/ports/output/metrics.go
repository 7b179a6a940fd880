package output

import "time"

// MetricsCollector records what the application does with map files,
// plugins and catalogs. A nil err marks a successful operation.
type MetricsCollector interface {
	// ObserveParse records one parse attempt and the features it produced.
	ObserveParse(format string, features int, duration time.Duration, err error)

	// SetSources replaces the registered source counts, keyed by source type.
	SetSources(byType map[string]int)

	// ObservePluginOperation records a plugin load or unload.
	ObservePluginOperation(op string, err error)

	// SetPluginsLoaded sets the number of loaded plugins.
	SetPluginsLoaded(count int)

	// ObserveStorage records one catalog operation.
	ObserveStorage(op string, duration time.Duration, err error)
}

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

func (NoOpMetrics) ObserveParse(string, int, time.Duration, error) {}
func (NoOpMetrics) SetSources(map[string]int)                      {}
func (NoOpMetrics) ObservePluginOperation(string, error)           {}
func (NoOpMetrics) SetPluginsLoaded(int)                           {}
func (NoOpMetrics) ObserveStorage(string, time.Duration, error)    {}
