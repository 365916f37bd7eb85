package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggersChainInline(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("worker").Info().Msg("Task dequeued")
	WithProject("matrix").Warn().Msg("Health probe failed")
	WithDeployment("d-1").Debug().Msg("Entering built state")
	WithAccount("neo").Error().Msg("Quota exceeded")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "worker", first["component"])
	assert.Equal(t, "Task dequeued", first["message"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "matrix", second["project"])

	var third map[string]any
	require.NoError(t, json.Unmarshal(lines[2], &third))
	assert.Equal(t, "d-1", third["deployment_id"])

	var fourth map[string]any
	require.NoError(t, json.Unmarshal(lines[3], &fourth))
	assert.Equal(t, "neo", fourth["account"])
}
