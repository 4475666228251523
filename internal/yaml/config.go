// Package yaml keeps the data directory's YAML files consistent. The config
// file is only ever replaced by content that loads as a landale config, with
// the previous version kept beside it; inbox files that cannot be used are
// moved to quarantine.
package yaml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

// BackupPath is where the previous config is kept when it is replaced.
func BackupPath(path string) string { return path + ".bak" }

// WriteConfig encodes cfg and installs it at path.
func WriteConfig(path string, cfg model.Config) error {
	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return WriteConfigRaw(path, content)
}

// WriteConfigRaw installs content at path if it loads as a valid config.
// Comments in content are preserved. Nothing on disk changes when content is
// rejected, and readers never observe a partially written file.
func WriteConfigRaw(path string, content []byte) error {
	if _, err := model.ParseConfig(content); err != nil {
		return fmt.Errorf("refusing to write %s: %w", filepath.Base(path), err)
	}
	return install(path, content)
}

func install(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, werr := tmp.Write(content)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write temp file: %w", werr)
	}

	if err := keepBackup(path); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install %s: %w", filepath.Base(path), err)
	}
	return nil
}

func keepBackup(path string) error {
	prev, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read current config: %w", err)
	}
	if err := os.WriteFile(BackupPath(path), prev, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// RecoverConfig is called when the config at path no longer parses. The file
// is quarantined and replaced by its backup when the backup is a valid
// config, or by the defaults otherwise. It returns the config now in place
// and whether it came from the backup.
func RecoverConfig(dataDir, path string) (model.Config, bool, error) {
	if _, err := Quarantine(dataDir, path, "corrupt"); err != nil {
		return model.Config{}, false, err
	}

	if content, err := os.ReadFile(BackupPath(path)); err == nil {
		if cfg, perr := model.ParseConfig(content); perr == nil {
			if err := install(path, content); err != nil {
				return model.Config{}, false, fmt.Errorf("restore backup: %w", err)
			}
			return cfg, true, nil
		}
	}

	cfg := model.DefaultConfig()
	if err := WriteConfig(path, cfg); err != nil {
		return model.Config{}, false, fmt.Errorf("write default config: %w", err)
	}
	return cfg, false, nil
}
