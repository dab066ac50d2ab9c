package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Info("request finished", "session", "s-1", "success", true)
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "request finished", rec["msg"])
	assert.Equal(t, "s-1", rec["session"])
}

func TestNew_VerboseIncludesDebug(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, true).Debug("dispatching request", "request", 3)
	assert.Contains(t, buf.String(), "dispatching request")
}
