// Package inbox turns YAML files dropped into <dir>/inbox into orchestrator
// commands. Producers should write files atomically (write a dotfile, then
// rename); dotfiles and non-YAML files are ignored.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/orchestrator"
	"github.com/bryanveloso/landale-sub014/internal/yaml"
)

const DirName = "inbox"

// Orchestrator is the command surface inbox files can reach.
type Orchestrator interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*model.ContentItem, error)
	Remove(ctx context.Context, id string) error
	UpdateContent(ctx context.Context, id string, payload json.RawMessage) error
	SetCategory(ctx context.Context, gameID string) (string, error)
}

// File is the on-disk shape of an inbox entry.
type File struct {
	yaml.SchemaHeader `yaml:",inline"`

	ID         string         `yaml:"id,omitempty"`
	Type       string         `yaml:"type,omitempty"`
	Priority   string         `yaml:"priority_level,omitempty"`
	Payload    map[string]any `yaml:"payload,omitempty"`
	DurationMs *int64         `yaml:"duration_ms,omitempty"`
	Preempt    bool           `yaml:"preempt,omitempty"`
	GameID     string         `yaml:"game_id,omitempty"`
}

// errDecode marks files that could not be read as an inbox entry at all.
var errDecode = errors.New("undecodable inbox file")

type Watcher struct {
	dataDir      string
	dir          string
	orch         Orchestrator
	logger       zerolog.Logger
	scanInterval time.Duration
}

func New(dataDir string, orch Orchestrator, logger zerolog.Logger) *Watcher {
	return &Watcher{
		dataDir:      dataDir,
		dir:          filepath.Join(dataDir, DirName),
		orch:         orch,
		logger:       logger.With().Str("component", "inbox").Logger(),
		scanInterval: 30 * time.Second,
	}
}

func (w *Watcher) Dir() string { return w.dir }

// Run watches the inbox until ctx is done. Files already present are
// processed first, and a periodic rescan picks up anything an event missed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("ensure inbox dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.Scan(ctx)
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("fsnotify event")
				w.handle(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("fsnotify error")
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan processes every pending inbox file in name order and returns how
// many were consumed.
func (w *Watcher) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Error().Err(err).Msg("read inbox dir")
		}
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && eligible(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if w.handle(ctx, filepath.Join(w.dir, name)) {
			n++
		}
	}
	return n
}

func eligible(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// handle processes one file and reports whether it was consumed, either
// applied and deleted or quarantined.
func (w *Watcher) handle(ctx context.Context, path string) bool {
	if !eligible(filepath.Base(path)) {
		return false
	}
	err := w.ProcessFile(ctx, path)
	switch {
	case err == nil:
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Error().Err(rmErr).Str("file", path).Msg("remove processed file")
		}
		return true
	case errors.Is(err, os.ErrNotExist):
		return false
	case errors.Is(err, model.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Left in place for the next run.
		return false
	}

	reason := "rejected"
	if errors.Is(err, errDecode) {
		reason = "corrupt"
	}
	dst, qErr := yaml.Quarantine(w.dataDir, path, reason)
	if qErr != nil {
		w.logger.Error().Err(qErr).Str("file", path).Msg("quarantine inbox file")
		return false
	}
	w.logger.Warn().Err(err).Str("file", path).Str("quarantine", dst).Msg("inbox file quarantined")
	return true
}

// ProcessFile decodes and applies one inbox file without deleting it.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := Decode(content)
	if err != nil {
		return err
	}

	switch f.FileType {
	case yaml.FileTypeSubmit:
		req, err := f.SubmitRequest()
		if err != nil {
			return err
		}
		item, err := w.orch.Submit(ctx, req)
		if err != nil {
			return err
		}
		w.logger.Info().Str("file", filepath.Base(path)).Str("id", item.ID).Str("status", string(item.Status)).
			Msg("inbox submission accepted")
	case yaml.FileTypeRemove:
		return w.orch.Remove(ctx, f.ID)
	case yaml.FileTypeUpdateContent:
		raw, err := f.rawPayload()
		if err != nil {
			return err
		}
		return w.orch.UpdateContent(ctx, f.ID, raw)
	case yaml.FileTypeSetCategory:
		_, err := w.orch.SetCategory(ctx, f.GameID)
		return err
	}
	return nil
}

// Decode parses an inbox file and checks the fields its type needs.
func Decode(content []byte) (File, error) {
	header, err := yaml.ParseSchemaHeader(content)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", errDecode, err)
	}
	var f File
	if err := yamlv3.Unmarshal(content, &f); err != nil {
		return File{}, fmt.Errorf("%w: %v", errDecode, err)
	}
	f.SchemaHeader = header

	switch f.FileType {
	case yaml.FileTypeSubmit:
		if f.Type == "" {
			return File{}, fmt.Errorf("%w: submit needs a type", errDecode)
		}
	case yaml.FileTypeRemove, yaml.FileTypeUpdateContent:
		if f.ID == "" {
			return File{}, fmt.Errorf("%w: %s needs an id", errDecode, f.FileType)
		}
	case yaml.FileTypeSetCategory:
		if f.GameID == "" {
			return File{}, fmt.Errorf("%w: set_category needs a game_id", errDecode)
		}
	}
	return f, nil
}

// SubmitRequest converts a submit file to the orchestrator request.
func (f File) SubmitRequest() (orchestrator.SubmitRequest, error) {
	raw, err := f.rawPayload()
	if err != nil {
		return orchestrator.SubmitRequest{}, err
	}
	return orchestrator.SubmitRequest{
		ID:         f.ID,
		Type:       f.Type,
		Priority:   f.Priority,
		Payload:    raw,
		DurationMs: f.DurationMs,
		Preempt:    f.Preempt,
	}, nil
}

func (f File) rawPayload() (json.RawMessage, error) {
	if len(f.Payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", model.ErrInvalidPayload, err)
	}
	return raw, nil
}
