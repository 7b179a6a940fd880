// Package plugin loads mapshell plugins from disk.
package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// maxMetadataFile bounds how much of a plugin file is scanned for metadata.
const maxMetadataFile = 256 << 20

// ReadMetadata returns the metadata block embedded in the file at path.
func ReadMetadata(path string) (pluginapi.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return pluginapi.Metadata{}, err
	}
	if info.Size() > maxMetadataFile {
		return pluginapi.Metadata{}, fmt.Errorf("%s: file too large to scan: %w", path, domain.ErrInvalidInput)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pluginapi.Metadata{}, err
	}
	meta, err := parseMetadata(data)
	if err != nil {
		return pluginapi.Metadata{}, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// parseMetadata decodes the first JSON object following the marker. Later
// markers are tried when a match is not followed by valid JSON, which happens
// when the marker string itself appears elsewhere in a binary.
func parseMetadata(data []byte) (pluginapi.Metadata, error) {
	marker := []byte(pluginapi.MetadataMarker)
	rest := data
	for {
		i := bytes.Index(rest, marker)
		if i < 0 {
			return pluginapi.Metadata{}, fmt.Errorf("metadata block: %w", domain.ErrNotFound)
		}
		rest = rest[i+len(marker):]

		body := bytes.TrimLeft(rest, " \t\r\n")
		if len(body) == 0 || body[0] != '{' {
			continue
		}
		var meta pluginapi.Metadata
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&meta); err != nil {
			continue
		}
		return meta, nil
	}
}
