package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/julianshen/coverclient/pkg/cover"
)

// LoadSettings reads analysis settings from a .json, .yaml or .yml file.
func LoadSettings(path string) (*cover.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var s cover.Settings
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("unsupported settings file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	return &s, nil
}
