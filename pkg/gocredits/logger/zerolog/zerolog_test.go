package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

func TestLogger_FieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.Info("order applied",
		gocredits.Field{Key: "user_id", Value: "u1"},
		gocredits.Field{Key: "credits", Value: 100})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "order applied", entry["message"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, float64(100), entry["credits"])
}

func TestLogger_RespectsLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("noisy")
	logger.Info("also noisy")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")

	buf.Reset()
	logger.Error("kept too", gocredits.Field{Key: "error", Value: "boom"})
	assert.Contains(t, buf.String(), "boom")
}
