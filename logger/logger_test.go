package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "debug", FormatJSON)
	require.NoError(t, err)

	log.Debug().Str("wallet_id", "w1").Msg("test message")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "test message", line["message"])
	assert.Equal(t, "w1", line["wallet_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithWriter(buf, "warn", FormatText)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriter_Invalid(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", FormatJSON)
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestParseLevel_DefaultInfo(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog, err := NewWithWriter(buf, "info", FormatJSON)
	require.NoError(t, err)
	ctx := WithContext(context.Background(), testLog)

	ctxLog := FromContext(ctx)
	ctxLog.Info().Msg("test")
	assert.NotZero(t, buf.Len())
}

func TestFromContext_Missing(t *testing.T) {
	log := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}
