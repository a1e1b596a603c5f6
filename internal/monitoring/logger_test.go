package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framelink/internal/config"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}

func TestUseLogrus(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	UseLogrus(l)
	Logf("frame %s", "Packet[id=1, size=2, valid=true]")
	assert.Contains(t, buf.String(), "Packet[id=1, size=2, valid=true]")
}

func TestNewLogger_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "framelink.log")
	l, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path, MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("transport", "uart").Info("opened")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "opened", entry["message"])
	assert.Equal(t, "uart", entry["transport"])
}

func TestNewLogger_Stdout(t *testing.T) {
	l, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, l.Out)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Format: "text", Output: "stderr"})
	assert.Error(t, err)
}
