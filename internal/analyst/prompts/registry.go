// Package prompts 管理各分析角色的 system prompt 与输出 schema，支持热加载。
package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultPrompts []byte

// Template 描述单个角色的 prompt。
type Template struct {
	Role    string         `yaml:"role"`
	Version int            `yaml:"version"`
	System  string         `yaml:"system"`
	Schema  map[string]any `yaml:"schema"`

	compiled *jsonschema.Schema
}

// FileConfig 映射 prompts 文件。
type FileConfig struct {
	Prompts map[string]Template `yaml:"prompts"`
}

// Snapshot 是某一时刻的模板集合。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Source    string
	Templates map[string]Template
}

// Registry 保存各角色模板；文件中的条目覆盖内置默认值。
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewRegistry 读取 prompts 文件并监听更新；path 为空或文件不存在时只使用内置模板。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		return r, r.reload()
	}
	if _, err := os.Stat(r.path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("prompt file %s not found, using built-in prompts", r.path)
		r.path = ""
		return r, r.reload()
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("prompt reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	r.v = v
	return r, nil
}

// Default 返回只包含内置模板的 registry。
func Default() *Registry {
	r := &Registry{}
	if err := r.reload(); err != nil {
		panic(fmt.Sprintf("built-in prompts invalid: %v", err))
	}
	return r
}

// Template 返回指定角色的模板。
func (r *Registry) Template(role string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.ToLower(strings.TrimSpace(role))]
	return tpl, ok
}

// System 返回角色的 system prompt。
func (r *Registry) System(role string) string {
	tpl, ok := r.Template(role)
	if !ok {
		return ""
	}
	return tpl.System
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.snapshot
	out.Templates = make(map[string]Template, len(r.snapshot.Templates))
	for k, v := range r.snapshot.Templates {
		out.Templates[k] = v
	}
	return out
}

// Validate 用角色 schema 校验已解码的 JSON 值。
func (t Template) Validate(doc any) error {
	if t.compiled == nil {
		return nil
	}
	return t.compiled.Validate(doc)
}

func (r *Registry) reload() error {
	base, err := decodeFile(defaultPrompts)
	if err != nil {
		return fmt.Errorf("parse built-in prompts failed: %w", err)
	}
	source := "built-in"
	if r.path != "" {
		raw, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read prompt file failed: %w", err)
		}
		override, err := decodeFile(raw)
		if err != nil {
			return fmt.Errorf("parse prompt file failed: %w", err)
		}
		for name, tpl := range override.Prompts {
			base.Prompts[name] = tpl
		}
		source = filepath.Base(r.path)
	}
	templates := make(map[string]Template, len(base.Prompts))
	for name, tpl := range base.Prompts {
		norm, err := normalizeTemplate(name, tpl)
		if err != nil {
			return err
		}
		templates[norm.Role] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Source:    source,
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("prompt registry loaded %d templates from %s", len(templates), source)
	return nil
}

func decodeFile(raw []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, err
	}
	if cfg.Prompts == nil {
		cfg.Prompts = make(map[string]Template)
	}
	return cfg, nil
}

func normalizeTemplate(name string, tpl Template) (Template, error) {
	tpl.Role = strings.ToLower(strings.TrimSpace(tpl.Role))
	if tpl.Role == "" {
		tpl.Role = strings.ToLower(strings.TrimSpace(name))
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.System = strings.TrimSpace(tpl.System)
	if tpl.System == "" {
		return Template{}, fmt.Errorf("prompt %s has empty system text", tpl.Role)
	}
	if len(tpl.Schema) > 0 {
		compiled, err := compileSchema(tpl.Schema)
		if err != nil {
			return Template{}, fmt.Errorf("prompt %s schema compile failed: %w", tpl.Role, err)
		}
		tpl.compiled = compiled
	}
	return tpl, nil
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
