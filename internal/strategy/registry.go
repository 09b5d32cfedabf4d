package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"quantra/internal/logger"
)

// Factory builds a strategy from a profile's parameter map.
type Factory func(params map[string]any) (Strategy, error)

// Profile is one strategy block from the profile file.
type Profile struct {
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
	Schema  map[string]any `yaml:"schema"`
}

type profileFile struct {
	Strategies map[string]Profile `yaml:"strategies"`
}

// RegistrySnapshot is the immutable view of the built strategies.
type RegistrySnapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]Strategy
}

// ChangeListener fires after a successful hot reload.
type ChangeListener func(RegistrySnapshot)

// Registry builds strategies from a YAML profile file, validates their
// parameters against per-strategy JSON Schemas, and hot-reloads on
// file change. A reload that fails validation keeps the previous set.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	factories map[string]Factory
	snapshot  RegistrySnapshot
	listeners []ChangeListener
}

// NewRegistry reads the profile at path, builds the enabled strategies
// and starts watching the file. The built-in strategies are registered
// under their Name().
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires a profile path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy profile: %w", err)
	}
	r := &Registry{
		path:      path,
		v:         v,
		factories: builtinFactories(),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy profile reload failed, keeping previous set: %v", err)
			return
		}
		r.notify()
	})
	v.WatchConfig()
	return r, nil
}

// RegisterFactory adds or replaces a named factory. Must be followed
// by a profile change (or Reload) to take effect.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Reload re-reads the profile file on demand.
func (r *Registry) Reload() error {
	if err := r.reload(); err != nil {
		return err
	}
	r.notify()
	return nil
}

// Snapshot returns the current strategy set.
func (r *Registry) Snapshot() RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Factory returns the registered factory with the given name.
func (r *Registry) Factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Strategy returns the built strategy with the given name.
func (r *Registry) Strategy(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshot.Strategies[name]
	return s, ok
}

// Strategies returns the built strategies sorted by name.
func (r *Registry) Strategies() []Strategy {
	snap := r.Snapshot()
	names := make([]string, 0, len(snap.Strategies))
	for name := range snap.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		out = append(out, snap.Strategies[name])
	}
	return out
}

// OnChange registers a hot-reload listener.
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	factories := make(map[string]Factory, len(r.factories))
	for name, f := range r.factories {
		factories[name] = f
	}
	r.mu.Unlock()

	built := make(map[string]Strategy)
	for name, profile := range cfg.Strategies {
		name = strings.TrimSpace(name)
		if name == "" || !profile.Enabled {
			continue
		}
		factory, ok := factories[name]
		if !ok {
			return fmt.Errorf("unknown strategy %q in profile", name)
		}
		if len(profile.Schema) > 0 {
			schema, err := compileSchema(profile.Schema)
			if err != nil {
				return fmt.Errorf("strategy %q schema: %w", name, err)
			}
			if err := schema.Validate(normalizeParams(profile.Params)); err != nil {
				return fmt.Errorf("strategy %q params rejected by schema: %w", name, err)
			}
		}
		s, err := factory(profile.Params)
		if err != nil {
			return fmt.Errorf("build strategy %q: %w", name, err)
		}
		if err := s.ValidateParams(); err != nil {
			return fmt.Errorf("strategy %q params invalid: %w", name, err)
		}
		built[name] = s
	}

	r.mu.Lock()
	r.snapshot = RegistrySnapshot{
		Version:    r.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: built,
	}
	r.mu.Unlock()
	logger.Infof("strategy registry loaded %d strategies from %s", len(built), filepath.Base(r.path))
	return nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("strategy registry listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src RegistrySnapshot) RegistrySnapshot {
	dst := RegistrySnapshot{
		Version:    src.Version,
		LoadedAt:   src.LoadedAt,
		Strategies: make(map[string]Strategy, len(src.Strategies)),
	}
	for name, s := range src.Strategies {
		dst.Strategies[name] = s
	}
	return dst
}

func readProfileFile(path string) (profileFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return profileFile{}, fmt.Errorf("read strategy profile: %w", err)
	}
	var cfg profileFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return profileFile{}, fmt.Errorf("parse strategy profile: %w", err)
	}
	return cfg, nil
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// normalizeParams round-trips params through JSON so YAML-decoded
// values (map[string]any with int leaves) match what the schema
// validator expects.
func normalizeParams(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return params
	}
	return out
}

func builtinFactories() map[string]Factory {
	return map[string]Factory{
		"ma_cross": func(params map[string]any) (Strategy, error) {
			return NewMACross(
				intParam(params, "short_window", 10),
				intParam(params, "long_window", 20),
				floatParam(params, "position_size", 0.1),
			), nil
		},
		"momentum": func(params map[string]any) (Strategy, error) {
			return NewMomentum(
				intParam(params, "lookback", 10),
				floatParam(params, "threshold", 2.0),
				floatParam(params, "position_size", 0.1),
			), nil
		},
		"mean_revert": func(params map[string]any) (Strategy, error) {
			return NewMeanRevert(
				intParam(params, "window", 20),
				floatParam(params, "threshold", 1.5),
				floatParam(params, "position_size", 0.1),
			), nil
		},
	}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
