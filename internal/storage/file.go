package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"heraldbot/pkg/logx"
)

// fileBackend keeps the document in a single JSON file. Saves go through a
// temp file and rename so a crash mid-write never corrupts the previous
// snapshot.
type fileBackend struct {
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return newStore(&fileBackend{path: path, log: log})
}

func (b *fileBackend) Load() (document, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newDocument(), nil
		}
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// A corrupt state file must not keep the bot down. Milestones may
		// re-announce once after this.
		b.log.Warn("state file corrupt; starting from empty document",
			logx.String("path", b.path), logx.Err(err))
		return newDocument(), nil
	}
	return doc, nil
}

func (b *fileBackend) Save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) Close() error { return nil }
