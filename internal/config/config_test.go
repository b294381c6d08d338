package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("surrogacy")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "surrogacy", cfg.Pipeline.ID)
	assert.Len(t, cfg.Pipeline.Stages, 9)
	assert.Equal(t, time.Second, cfg.BackdateTolerance())

	var terminal []string
	for _, s := range cfg.Pipeline.Stages {
		if s.StageType == domain.StageTypeTerminal {
			terminal = append(terminal, s.ID)
		}
	}
	assert.Equal(t, []string{"disqualified", "withdrawn"}, terminal)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"no stages", func(c *Config) { c.Pipeline.Stages = nil }, "stages is required"},
		{"duplicate id", func(c *Config) { c.Pipeline.Stages[1].ID = c.Pipeline.Stages[0].ID }, "duplicate stage id"},
		{"duplicate order", func(c *Config) { c.Pipeline.Stages[1].Order = c.Pipeline.Stages[0].Order }, "share order"},
		{"bad type", func(c *Config) { c.Pipeline.Stages[0].StageType = "final" }, "invalid stage_type"},
		{"empty label", func(c *Config) { c.Pipeline.Stages[0].Label = " " }, "empty label"},
		{"bad tolerance", func(c *Config) { c.Timeline.BackdateTolerance = "soon" }, "backdate_tolerance"},
		{"negative tolerance", func(c *Config) { c.Timeline.BackdateTolerance = "-1s" }, "must not be negative"},
		{"unknown default role", func(c *Config) { c.RBAC.DefaultRole = "ghost" }, "unknown role"},
		{"webhook url", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: ""}} }, "empty url"},
		{"all inactive", func(c *Config) {
			for i := range c.Pipeline.Stages {
				c.Pipeline.Stages[i].IsActive = false
			}
		}, "active stage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("p")
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	yml := GenerateDefault("agency") + "\nwebhooks:\n  - url: http://example.test/hook\n    events: [note_added]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yml), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "agency", cfg.Pipeline.ID)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"note_added"}, cfg.Webhooks[0].Events)
}

func TestToYAMLRoundTripsStages(t *testing.T) {
	cfg := Default("p")
	cfg.Timeline.BackdateTolerance = "2m"
	data, err := cfg.ToYAML()
	require.NoError(t, err)
	back, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipeline.Stages, back.Pipeline.Stages)
	assert.Equal(t, 2*time.Minute, back.BackdateTolerance())
}
