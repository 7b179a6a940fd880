package output

// SettingsStore persists configuration values grouped by category.
type SettingsStore interface {
	// Value returns the stored value or def when the key is absent.
	Value(category, key string, def any) any

	// SetValue stores a value and persists it.
	SetValue(category, key string, value any) error

	// Category returns every key of a category.
	Category(category string) (map[string]any, error)

	// ResetCategory removes every key of a category.
	ResetCategory(category string) error
}
