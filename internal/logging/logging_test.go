package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Str("step", "load").Msg("cohort built")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "load", entry["step"])
	assert.Equal(t, "cohort built", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriterVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true)

	log.Debug().Int("records", 3).Msg("parsed")
	out := buf.String()
	assert.Contains(t, out, "parsed")
	assert.Contains(t, out, "records=")
}
