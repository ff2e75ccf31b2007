package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/eval/template"
	"github.com/aescanero/dago-stream-watcher/internal/worker"
	"gopkg.in/yaml.v3"
)

// WorkersFile is the YAML document listing worker definitions
type WorkersFile struct {
	Vars    map[string]string `yaml:"vars"`
	Workers []WorkerSpec      `yaml:"workers"`
}

// WorkerSpec is one worker definition as written in the file
type WorkerSpec struct {
	Name                  string            `yaml:"name"`
	DisplayName           string            `yaml:"display_name"`
	Source                string            `yaml:"source"`
	Mode                  string            `yaml:"mode"`
	ImageCallback         string            `yaml:"image_callback"`
	CheckCallback         string            `yaml:"check_callback"`
	ImageCallbackInterval int               `yaml:"image_callback_interval"`
	CheckCallbackInterval int               `yaml:"check_callback_interval"`
	CheckEnabled          *bool             `yaml:"check_enabled"`
	OnCheckFail           string            `yaml:"on_check_fail"`
	FrameWidth            int               `yaml:"frame_width"`
	FrameHeight           int               `yaml:"frame_height"`
	Options               map[string]string `yaml:"options"`
}

// Definition is a rendered worker ready to register
type Definition struct {
	Name   string
	Config worker.Config
}

// LoadWorkers reads and renders the workers file at path
func LoadWorkers(path string, cfg *Config) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workers file: %w", err)
	}
	return ParseWorkers(data, cfg, environ())
}

// ParseWorkers decodes a workers document, renders its templates against
// vars and envVars and fills unset fields from cfg
func ParseWorkers(data []byte, cfg *Config, envVars map[string]string) ([]Definition, error) {
	var file WorkersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workers file: %w", err)
	}

	engine := template.NewEngine()
	seen := make(map[string]bool, len(file.Workers))
	defs := make([]Definition, 0, len(file.Workers))

	for i, spec := range file.Workers {
		if spec.Name == "" {
			return nil, fmt.Errorf("worker %d: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("worker %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		def, err := buildDefinition(engine, spec, file.Vars, envVars, cfg)
		if err != nil {
			return nil, fmt.Errorf("worker %q: %w", spec.Name, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

func buildDefinition(engine *template.Engine, spec WorkerSpec, vars, envVars map[string]string, cfg *Config) (Definition, error) {
	data := template.Context{Name: spec.Name, Vars: vars, Env: envVars}

	if spec.Source == "" {
		return Definition{}, fmt.Errorf("source is required")
	}
	descriptor, err := engine.Render(spec.Source, data)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to render source: %w", err)
	}

	options, err := engine.RenderOptions(spec.Options, data)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to render options: %w", err)
	}

	mode, err := worker.ParseMode(spec.Mode)
	if err != nil {
		return Definition{}, err
	}

	policy, err := check.ParsePolicy(spec.OnCheckFail)
	if err != nil {
		return Definition{}, err
	}

	wc := worker.Config{
		Descriptor:    descriptor,
		Name:          spec.DisplayName,
		Mode:          mode,
		ImageCallback: spec.ImageCallback,
		CheckCallback: spec.CheckCallback,
		ImageInterval: spec.ImageCallbackInterval,
		CheckInterval: spec.CheckCallbackInterval,
		CheckEnabled:  cfg.CheckEnabled,
		OnCheckFail:   policy,
		FrameWidth:    spec.FrameWidth,
		FrameHeight:   spec.FrameHeight,
		OpenTimeout:   cfg.SourceOpenTimeout,
		PoolSize:      cfg.CallbackPoolSize,
		QueueSize:     cfg.CallbackQueueSize,
		Options:       options,
	}
	if wc.ImageInterval <= 0 {
		wc.ImageInterval = cfg.ImageCallbackInterval
	}
	if wc.CheckInterval <= 0 {
		wc.CheckInterval = cfg.CheckCallbackInterval
	}
	if spec.CheckEnabled != nil {
		wc.CheckEnabled = *spec.CheckEnabled
	}

	if err := wc.WithDefaults().Validate(); err != nil {
		return Definition{}, err
	}

	return Definition{Name: spec.Name, Config: wc}, nil
}

// environ returns the process environment as a map
func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
