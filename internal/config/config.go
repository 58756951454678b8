package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config models aocr.yml.
type Config struct {
	NumberPrefix string              `yaml:"number_prefix" validate:"required,alphanum,max=12"`
	Fees         FeeSchedule         `yaml:"fees"`
	Roles        map[string]RoleSpec `yaml:"roles" validate:"required,min=1"`
	Webhooks     []WebhookConfig     `yaml:"webhooks" validate:"dive"`
}

// FeeSchedule holds the minimum payment per request type, in minor units.
type FeeSchedule struct {
	Default *int64           `yaml:"default" validate:"omitempty,gte=0"`
	Types   map[string]int64 `yaml:"types" validate:"dive,keys,required,endkeys,gte=0"`
}

type RoleSpec struct {
	Description string `yaml:"description"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"gte=0,lte=60"`
	Enabled        *bool    `yaml:"enabled"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FeeFor returns the fee for a request type, falling back to the default.
// ok is false when neither is configured.
func (f FeeSchedule) FeeFor(requestType string) (int64, bool) {
	if amount, ok := f.Types[requestType]; ok {
		return amount, true
	}
	if f.Default != nil {
		return *f.Default, true
	}
	return 0, false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Roles["Administrador"]; !ok {
		return fmt.Errorf("config.roles must include Administrador")
	}
	for name := range c.Roles {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.roles contains an empty role name")
		}
	}
	seen := map[string]bool{}
	for _, hook := range c.Webhooks {
		key := strings.TrimSpace(hook.URL)
		if seen[key] {
			return fmt.Errorf("webhook %s declared twice", key)
		}
		seen[key] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "aocr.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with aocr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the default when absent.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(DefaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const DefaultTemplate = `number_prefix: AOCR

fees:
  default: 150000
  types:
    operador-aereo: 250000
    taller-mantenimiento: 180000
    escuela-aviacion: 120000

roles:
  Administrador:
    description: "Full access to every review stage"
  Operador:
    description: "Registers and follows up requests on behalf of applicants"
  Financiero:
    description: "Validates payments and moves requests through finance review"
  Tecnico:
    description: "Technical inspector; opens inspections and records findings"
  JefaturaTecnica:
    description: "Technical leadership; validates inspections and assigns technicians"
  Legal:
    description: "Legal coordination; legalizes validated requests"

webhooks: []
`
