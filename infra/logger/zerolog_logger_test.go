package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
	l.Errorw("error", errors.New("boom"), nil)
}

func TestErrorwFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "reactor")
	l.Errorw("route aggregation degraded", errors.New("db down"), map[string]any{"route_id": "r1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reactor", line["component"])
	assert.Equal(t, "r1", line["route_id"])
	assert.Equal(t, "db down", line["error"])
	assert.Equal(t, "error", line["level"])
}
