package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// StepConfig is one entry of the pipeline YAML's steps list (spec §6.3).
// Options carries every key beyond "name". cmd/codestoryd reads only the
// "concurrency" key (the worker count for the step's queue); the other
// keys are not forwarded to the orchestrator or the steps.
type StepConfig struct {
	Name    string
	Options map[string]interface{}
}

// RetryConfig is the pipeline-wide step retry policy (spec §6.3).
type RetryConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	BackOffSeconds int `mapstructure:"back_off_seconds"`
}

// PipelineConfig is the full contents of the pipeline YAML: the step
// list, the in-job dependency map, and the retry policy.
type PipelineConfig struct {
	Steps        []StepConfig
	Dependencies map[string][]string `mapstructure:"dependencies"`
	Retry        RetryConfig         `mapstructure:"retry"`
}

// DefaultDependencies mirrors spec §4.9's built-in step dependency map,
// used when a pipeline YAML omits the dependencies section.
func DefaultDependencies() map[string][]string {
	return map[string][]string{
		"filesystem": {},
		"ast":        {"filesystem"},
		"summarizer": {"filesystem", "ast"},
		"docgrapher": {"filesystem"},
	}
}

// LoadPipelineConfig reads the pipeline YAML at path (spec §6.3) via
// viper, the teacher's own config-loading library (cli/root.go).
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.back_off_seconds", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading pipeline config %s: %w", path, err)
	}

	cfg := &PipelineConfig{
		Dependencies: v.GetStringMapStringSlice("dependencies"),
		Retry: RetryConfig{
			MaxRetries:     v.GetInt("retry.max_retries"),
			BackOffSeconds: v.GetInt("retry.back_off_seconds"),
		},
	}

	raw, ok := v.Get("steps").([]interface{})
	if !ok {
		return nil, fmt.Errorf("pipeline config %s: steps must be a list", path)
	}
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pipeline config %s: each step entry must be a mapping", path)
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("pipeline config %s: step entry missing name", path)
		}
		opts := make(map[string]interface{}, len(m)-1)
		for k, val := range m {
			if k != "name" {
				opts[k] = val
			}
		}
		cfg.Steps = append(cfg.Steps, StepConfig{Name: name, Options: opts})
	}

	if len(cfg.Dependencies) == 0 {
		cfg.Dependencies = DefaultDependencies()
	}
	return cfg, nil
}

// StepOptions returns the named step's configured options, or an empty
// map if the step has no explicit entry in the pipeline config.
func (p *PipelineConfig) StepOptions(name string) map[string]interface{} {
	for _, s := range p.Steps {
		if s.Name == name {
			return s.Options
		}
	}
	return map[string]interface{}{}
}
