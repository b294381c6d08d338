package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
)

const FileName = "caseline.yml"

// Config models caseline.yml.
type Config struct {
	Pipeline struct {
		ID     string         `yaml:"id" json:"id"`
		Stages []domain.Stage `yaml:"stages" json:"stages"`
	} `yaml:"pipeline" json:"pipeline"`
	Timeline struct {
		BackdateTolerance string `yaml:"backdate_tolerance" json:"backdate_tolerance"`
	} `yaml:"timeline" json:"timeline"`
	RBAC struct {
		Roles       map[string]RBACRole `yaml:"roles" json:"roles"`
		DefaultRole string              `yaml:"default_role" json:"default_role"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("config.pipeline.stages is required")
	}
	ids := map[string]bool{}
	slugs := map[string]bool{}
	orders := map[int]string{}
	active := 0
	for i, s := range c.Pipeline.Stages {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("stage %d has empty id", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate stage id %s", s.ID)
		}
		ids[s.ID] = true
		if s.Slug != "" {
			if slugs[s.Slug] {
				return fmt.Errorf("duplicate stage slug %s", s.Slug)
			}
			slugs[s.Slug] = true
		}
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("stage %s has empty label", s.ID)
		}
		switch s.StageType {
		case domain.StageTypeOrdinary, domain.StageTypeTerminal:
		default:
			return fmt.Errorf("stage %s has invalid stage_type %q", s.ID, s.StageType)
		}
		if other, ok := orders[s.Order]; ok {
			return fmt.Errorf("stages %s and %s share order %d", other, s.ID, s.Order)
		}
		orders[s.Order] = s.ID
		if s.IsActive {
			active++
		}
	}
	if active == 0 {
		return fmt.Errorf("config.pipeline.stages needs at least one active stage")
	}
	if c.Timeline.BackdateTolerance != "" {
		d, err := time.ParseDuration(c.Timeline.BackdateTolerance)
		if err != nil {
			return fmt.Errorf("invalid timeline.backdate_tolerance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("timeline.backdate_tolerance must not be negative")
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	if c.RBAC.DefaultRole != "" {
		if _, ok := c.RBAC.Roles[c.RBAC.DefaultRole]; !ok {
			return fmt.Errorf("config.rbac.default_role references unknown role %s", c.RBAC.DefaultRole)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// BackdateTolerance returns the configured tolerance, or one second.
func (c *Config) BackdateTolerance() time.Duration {
	if c == nil || c.Timeline.BackdateTolerance == "" {
		return time.Second
	}
	d, err := time.ParseDuration(c.Timeline.BackdateTolerance)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(pipelineID string) string {
	return fmt.Sprintf(defaultTemplate, pipelineID)
}

// Default returns the default Config struct.
func Default(pipelineID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(pipelineID)))
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

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `pipeline:
  id: %s
  stages:
    - {id: new_unread, slug: new-unread, label: New Unread, color: "#6b7280", stage_type: ordinary, order: 10, is_active: true}
    - {id: contacted, slug: contacted, label: Contacted, color: "#3b82f6", stage_type: ordinary, order: 20, is_active: true}
    - {id: pre_screening, slug: pre-screening, label: Pre-Screening, color: "#8b5cf6", stage_type: ordinary, order: 30, is_active: true}
    - {id: application_submitted, slug: application-submitted, label: Application Submitted, color: "#0ea5e9", stage_type: ordinary, order: 40, is_active: true}
    - {id: medical_review, slug: medical-review, label: Medical Review, color: "#f59e0b", stage_type: ordinary, order: 50, is_active: true}
    - {id: approved, slug: approved, label: Approved, color: "#10b981", stage_type: ordinary, order: 60, is_active: true}
    - {id: matched, slug: matched, label: Matched, color: "#059669", stage_type: ordinary, order: 70, is_active: true}
    - {id: disqualified, slug: disqualified, label: Disqualified, color: "#ef4444", stage_type: terminal, order: 90, is_active: true}
    - {id: withdrawn, slug: withdrawn, label: Withdrawn, color: "#9ca3af", stage_type: terminal, order: 95, is_active: true}

timeline:
  backdate_tolerance: 1s

rbac:
  default_role: viewer
  roles:
    owner:
      description: "Full access"
      permissions: [case.read, case.write, timeline.read, apikey.manage]
    coordinator:
      description: "Works cases day to day"
      permissions: [case.read, case.write, timeline.read]
    viewer:
      description: "Read-only access"
      permissions: [case.read, timeline.read]
`
