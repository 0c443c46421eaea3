package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDateStripsDashes(t *testing.T) {
	assert.Equal(t, "20240102", normalizeDate("2024-01-02"))
	assert.Equal(t, "20240102", normalizeDate("20240102"))
}

func TestParseModelsSplitsEntries(t *testing.T) {
	models := parseModels("gpt:GPT-4:openai:#f00,ds:DeepSeek:deepseek:#0f0")

	assert := assert.New(t)
	assert.Len(models, 2)
	assert.Equal(ModelConfig{ID: "gpt", Name: "GPT-4", Provider: "openai", Color: "#f00", Enabled: true}, models[0])
	assert.Equal(ModelConfig{ID: "ds", Name: "DeepSeek", Provider: "deepseek", Color: "#0f0", Enabled: true}, models[1])
}

func TestParseModelsEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, parseModels(""))
}

func TestValidateRejectsNonPositiveCapital(t *testing.T) {
	cfg := &Config{InitialCapital: 0, Models: []ModelConfig{{ID: "a"}}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsStartAfterEnd(t *testing.T) {
	cfg := &Config{
		InitialCapital: 100000,
		StartDate:      "20240201",
		EndDate:        "20240101",
		Models:         []ModelConfig{{ID: "a"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNoModels(t *testing.T) {
	cfg := &Config{InitialCapital: 100000}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		InitialCapital: 100000,
		StartDate:      "20240101",
		EndDate:        "20240201",
		Models:         []ModelConfig{{ID: "a"}},
	}
	assert.NoError(t, cfg.Validate())
}
