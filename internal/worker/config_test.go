package worker

import (
	"bytes"
	"testing"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeThread, m)

	m, err = ParseMode(" Process ")
	require.NoError(t, err)
	assert.Equal(t, ModeProcess, m)

	_, err = ParseMode("fiber")
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Descriptor: "test://pattern"}.WithDefaults()
	assert.Equal(t, ModeThread, cfg.Mode)
	assert.Equal(t, DefaultImageInterval, cfg.ImageInterval)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval)
	assert.Equal(t, check.PolicyWarn, cfg.OnCheckFail)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing descriptor", Config{ImageInterval: 1, CheckInterval: 1}},
		{"zero image interval", Config{Descriptor: "x", CheckInterval: 1}},
		{"zero check interval", Config{Descriptor: "x", ImageInterval: 1}},
		{"bad mode", Config{Descriptor: "x", ImageInterval: 1, CheckInterval: 1, Mode: "fiber"}},
		{"bad policy", Config{Descriptor: "x", ImageInterval: 1, CheckInterval: 1, OnCheckFail: "panic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestStartMessageOmitsFunctions(t *testing.T) {
	cfg := Config{
		Descriptor:    "rtsp://cam/1",
		ImageCallback: "snapshot",
		ImageFunc:     func(source.Frame) error { return nil },
		Options:       map[string]string{"dir": "/tmp"},
	}.WithDefaults()

	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, message{Type: msgStart, Name: "cam", Config: &cfg}))

	msg, err := readMessage(&buf)
	require.NoError(t, err)
	require.NotNil(t, msg.Config)
	assert.Equal(t, msgStart, msg.Type)
	assert.Equal(t, "rtsp://cam/1", msg.Config.Descriptor)
	assert.Equal(t, "snapshot", msg.Config.ImageCallback)
	assert.Equal(t, "/tmp", msg.Config.Options["dir"])
	assert.Nil(t, msg.Config.ImageFunc)
}

func TestReadMessageRejectsOversizedFrames(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := readMessage(buf)
	assert.Error(t, err)
}
