package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostFor(t *testing.T) {
	c := Default().Credits
	assert.Equal(t, 1, c.CostFor("gpt-4o-mini"))
	assert.Equal(t, 10, c.CostFor("GPT-4o"))
	assert.Equal(t, 1, c.CostFor("unknown-model"))
	assert.Equal(t, 1, CreditsConfig{}.CostFor("anything"))

	assert.True(t, c.Supports("gpt-4o"))
	assert.False(t, c.Supports("gpt-3"))
}

func TestInitAppliesDefaultsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9090"
  maintenance_token: "tok"
conversation:
  poll_interval: 250ms
credits:
  model_costs:
    gpt-4o-mini: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	Init(path)
	t.Cleanup(func() { Conf = Config{} })

	assert.Equal(t, "9090", Conf.Server.Port)
	assert.Equal(t, "tok", Conf.Server.MaintenanceToken)
	assert.Equal(t, 250*time.Millisecond, Conf.Conversation.PollInterval)
	assert.Equal(t, 2*time.Minute, Conf.Conversation.MaxPollDuration)
	assert.Equal(t, 10, Conf.Ingestion.FreeLinkLimit)
	assert.Equal(t, " Answer in the language asked.", Conf.Ingestion.TextMarker)
	assert.Equal(t, 2, Conf.Credits.CostFor("gpt-4o-mini"))
	assert.Equal(t, 30*24*time.Hour, Conf.Plans.FreeWindow)
}

func TestInitPanicsOnMissingFile(t *testing.T) {
	assert.Panics(t, func() { Init(filepath.Join(t.TempDir(), "missing.yaml")) })
}
