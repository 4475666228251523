// Package setup initializes a landale data directory.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bryanveloso/landale-sub014/internal/inbox"
	atomicyaml "github.com/bryanveloso/landale-sub014/internal/yaml"
	"github.com/bryanveloso/landale-sub014/templates"
)

const configFile = "config.yaml"

// ErrAlreadyInitialized is returned when the directory already holds a config.
var ErrAlreadyInitialized = errors.New("already initialized")

// Run creates the data directory layout under dir and writes the default
// config.yaml. An existing config is only replaced when force is set.
func Run(dir string, force bool) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}

	cfgPath := filepath.Join(absDir, configFile)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return "", fmt.Errorf("%s: %w", cfgPath, ErrAlreadyInitialized)
	}

	dirs := []string{
		inbox.DirName,
		"logs",
		"locks",
		atomicyaml.QuarantineDirName,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	content, err := defaultConfig()
	if err != nil {
		return "", err
	}
	if err := atomicyaml.WriteConfigRaw(cfgPath, content); err != nil {
		return "", fmt.Errorf("write %s: %w", configFile, err)
	}
	return absDir, nil
}

// defaultConfig returns the embedded config template. WriteConfigRaw checks
// that it loads before anything is written.
func defaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(templates.FS, configFile)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	return data, nil
}
