// Package agentpipe builds message-passing agent pipelines from YAML
// definitions. The engine package holds the execution core; this package
// adds the config surface: agent definitions resolved through a kind
// registry, declarative wiring with named transformers and conditions, and
// scheduler settings.
package agentpipe

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/git5001/agentpipe/engine"
)

// Config is the top-level pipeline definition.
type Config struct {
	Agents      []AgentDef      `yaml:"agents"`
	Connections []ConnectionDef `yaml:"connections"`
	Scheduler   SchedulerDef    `yaml:"scheduler,omitempty"`
	Feeds       []FeedDef       `yaml:"feeds,omitempty"`
}

// AgentDef declares one agent: a unique name (its uuid), a registered kind,
// and kind-specific settings carried inline.
type AgentDef struct {
	Name  string         `yaml:"name"`
	Kind  string         `yaml:"kind"`
	Extra map[string]any `yaml:",inline"`
}

// GetString reads an inline setting with a default.
func (d *AgentDef) GetString(key, def string) string {
	if v, ok := d.Extra[key].(string); ok {
		return v
	}
	return def
}

// GetInt reads an inline integer setting with a default.
func (d *AgentDef) GetInt(key string, def int) int {
	switch v := d.Extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// UnmarshalKey decodes one inline setting into v.
func (d *AgentDef) UnmarshalKey(key string, v any) error {
	raw, exists := d.Extra[key]
	if !exists {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal key %q: %w", key, err)
	}
	return nil
}

// ConnectionDef wires one agent's output to another's input. Transformer and
// Condition reference names installed via RegisterTransformer and
// RegisterCondition.
type ConnectionDef struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Port        string `yaml:"port,omitempty"`
	Transformer string `yaml:"transformer,omitempty"`
	Condition   string `yaml:"condition,omitempty"`
}

// SchedulerDef carries the checkpoint settings.
type SchedulerDef struct {
	SaveDir         string `yaml:"save_dir,omitempty"`
	ErrorDir        string `yaml:"error_dir,omitempty"`
	SaveStep        int    `yaml:"save_step,omitempty"`
	ContinueOnError bool   `yaml:"continue_on_error,omitempty"`
}

// FeedDef seeds one message into an agent before the run.
type FeedDef struct {
	Agent   string `yaml:"agent"`
	Message any    `yaml:"message"`
}

// FileReader abstracts file access so config loading is testable.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader reads from the real filesystem.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ConfigLoader parses pipeline configs.
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a loader; a nil reader uses the OS filesystem.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	if fr == nil {
		fr = OSFileReader{}
	}
	return &ConfigLoader{fileReader: fr}
}

// Load reads and parses a YAML pipeline config.
func (l *ConfigLoader) Load(path string) (*Config, error) {
	data, err := l.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML pipeline config from bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("config declares no agents")
	}
	seen := make(map[string]bool)
	for _, def := range cfg.Agents {
		if def.Name == "" || def.Kind == "" {
			return nil, fmt.Errorf("agent needs name and kind: %+v", def)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate agent name %q", def.Name)
		}
		seen[def.Name] = true
	}
	return &cfg, nil
}

// Pipeline is a built, wired, seeded pipeline ready to drive.
type Pipeline struct {
	Scheduler *engine.Scheduler
	Agents    map[string]engine.Agent
}

// Build constructs agents through the kind registry, wires the declared
// connections, registers everything with a scheduler in declaration order,
// and applies the seed feeds.
func Build(cfg *Config) (*Pipeline, error) {
	agents := make(map[string]engine.Agent, len(cfg.Agents))
	var order []engine.Agent
	for _, def := range cfg.Agents {
		factory, ok := GetFactory(def.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown agent kind %q", def.Kind)
		}
		a, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("build agent %s: %w", def.Name, err)
		}
		agents[def.Name] = a
		order = append(order, a)
	}

	for _, conn := range cfg.Connections {
		from, ok := agents[conn.From]
		if !ok {
			return nil, fmt.Errorf("connection from unknown agent %q", conn.From)
		}
		to, ok := agents[conn.To]
		if !ok {
			return nil, fmt.Errorf("connection to unknown agent %q", conn.To)
		}
		target := to.Input(conn.Port)
		if target == nil {
			return nil, fmt.Errorf("agent %q has no input port %q", conn.To, conn.Port)
		}
		var opts []engine.ConnectOption
		if conn.Transformer != "" {
			t, ok := GetTransformer(conn.Transformer)
			if !ok {
				return nil, fmt.Errorf("unknown transformer %q", conn.Transformer)
			}
			opts = append(opts, engine.WithTransformer(t))
		}
		if conn.Condition != "" {
			c, ok := GetCondition(conn.Condition)
			if !ok {
				return nil, fmt.Errorf("unknown condition %q", conn.Condition)
			}
			opts = append(opts, engine.WithCondition(c))
		}
		if err := from.Output().Connect(target, opts...); err != nil {
			return nil, fmt.Errorf("connect %s -> %s: %w", conn.From, conn.To, err)
		}
	}

	var schedOpts []engine.SchedulerOption
	if cfg.Scheduler.SaveDir != "" {
		schedOpts = append(schedOpts, engine.WithSaveDir(cfg.Scheduler.SaveDir))
	}
	if cfg.Scheduler.ErrorDir != "" {
		schedOpts = append(schedOpts, engine.WithErrorDir(cfg.Scheduler.ErrorDir))
	}
	if cfg.Scheduler.SaveStep > 0 {
		schedOpts = append(schedOpts, engine.WithSaveStep(cfg.Scheduler.SaveStep))
	}
	if cfg.Scheduler.ContinueOnError {
		schedOpts = append(schedOpts, engine.WithContinueOnError())
	}
	sched := engine.NewScheduler(schedOpts...)
	for _, a := range order {
		if err := sched.AddAgent(a); err != nil {
			return nil, err
		}
	}

	for _, feed := range cfg.Feeds {
		a, ok := agents[feed.Agent]
		if !ok {
			return nil, fmt.Errorf("feed for unknown agent %q", feed.Agent)
		}
		if err := a.Feed(feed.Message); err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.Agent, err)
		}
	}

	return &Pipeline{Scheduler: sched, Agents: agents}, nil
}
