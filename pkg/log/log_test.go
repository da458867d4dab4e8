package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCallsBeforeInitAreNoops(t *testing.T) {
	assert.NotPanics(t, func() {
		Infow("before init", "k", "v")
		Warnw("before init")
		Sync()
	})
}

func TestInitWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	Init("info", "json", dir)
	t.Cleanup(func() { sugar = zap.NewNop().Sugar() })

	Infow("[Test] 写入文件", "chatbotId", 7)
	Sync()

	raw, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	assert.Contains(t, line, `"msg":"[Test] 写入文件"`)
	assert.Contains(t, line, `"chatbotId":7`)
}

func TestInitFallsBackToInfoLevel(t *testing.T) {
	dir := t.TempDir()
	Init("not-a-level", "console", dir)
	t.Cleanup(func() { sugar = zap.NewNop().Sugar() })

	Infof("visible %d", 1)
	Sync()

	raw, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "visible 1")
}
