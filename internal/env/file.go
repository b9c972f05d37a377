package env

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"workmgr/internal/fswatch"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

// FileSource feeds a Monitor from a JSON or YAML file, e.g.
//
//	network: { connected: true, metered: false }
//	charging: true
//
// External tooling (udev hooks, NetworkManager dispatcher scripts) rewrites the
// file; Run picks the change up and applies it.
type FileSource struct {
	path string
	mon  *Monitor
	log  logx.Logger
}

func NewFileSource(path string, mon *Monitor, log logx.Logger) *FileSource {
	return &FileSource{path: path, mon: mon, log: log}
}

// Load reads the file once and applies it to the monitor.
func (s *FileSource) Load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	e, err := ParseEnvironment(s.path, b)
	if err != nil {
		return err
	}
	s.mon.Set(e)
	return nil
}

// Run loads the file and then re-applies it on every change until ctx is done.
// A missing or invalid file is logged and the previous snapshot is kept.
func (s *FileSource) Run(ctx context.Context) error {
	if err := s.Load(); err != nil {
		s.log.Warn("environment file not applied", logx.String("path", s.path), logx.Err(err))
	}
	return fswatch.Watch(ctx, s.path, fswatch.Options{Debounce: 100 * time.Millisecond, Log: s.log}, func() {
		if err := s.Load(); err != nil {
			s.log.Warn("environment file rejected", logx.String("path", s.path), logx.Err(err))
		}
	})
}

// ParseEnvironment decodes an environment snapshot. YAML is selected by file
// extension; anything else is decoded as strict JSON.
func ParseEnvironment(name string, raw []byte) (constraint.Environment, error) {
	var e constraint.Environment
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&e); err != nil && !errors.Is(err, io.EOF) {
			return constraint.Environment{}, fmt.Errorf("environment yaml: %w", err)
		}
		return e, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return constraint.Environment{}, fmt.Errorf("environment json: %w", err)
	}
	return e, nil
}
