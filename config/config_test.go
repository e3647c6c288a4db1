package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqr/casterbase/canopen"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportSocketCAN, cfg.CAN.Transport)
	assert.Equal(t, "can0", cfg.CAN.Interface)
	assert.Equal(t, 20*time.Millisecond, cfg.Driver.PollingTimeout)

	d := cfg.Caster()
	assert.Equal(t, canopen.NodeID(1), d.Node)
	assert.Equal(t, [2]string{"drive_wheel_left_joint", "drive_wheel_right_joint"}, d.JointNames)
	assert.Equal(t, 0.1524, d.WheelDiameter)
	assert.Equal(t, 20*time.Millisecond, d.QueryTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "sim transport needs no interface", modify: func(c *Config) {
			c.CAN.Transport = TransportSim
			c.CAN.Interface = ""
		}},
		{name: "unknown transport", modify: func(c *Config) { c.CAN.Transport = "udp" }, wantErr: true},
		{name: "socketcan without interface", modify: func(c *Config) { c.CAN.Interface = "" }, wantErr: true},
		{name: "slcan without port", modify: func(c *Config) { c.CAN.Transport = TransportSLCAN }, wantErr: true},
		{name: "slcan with port", modify: func(c *Config) {
			c.CAN.Transport = TransportSLCAN
			c.CAN.SerialPort = "/dev/ttyACM0"
		}},
		{name: "bring up without bitrate", modify: func(c *Config) {
			c.CAN.BringUp = true
			c.CAN.Bitrate = 0
		}, wantErr: true},
		{name: "node zero", modify: func(c *Config) { c.CAN.NodeID = 0 }, wantErr: true},
		{name: "zero wheel diameter", modify: func(c *Config) { c.Driver.WheelDiameter = 0 }, wantErr: true},
		{name: "zero polling timeout", modify: func(c *Config) { c.Driver.PollingTimeout = 0 }, wantErr: true},
		{name: "negative max speed", modify: func(c *Config) { c.Driver.MaxSpeed = -1 }, wantErr: true},
		{name: "telemetry without listen", modify: func(c *Config) { c.Telemetry.Listen = "" }, wantErr: true},
		{name: "disabled telemetry without listen", modify: func(c *Config) {
			c.Telemetry.Enabled = false
			c.Telemetry.Listen = ""
		}},
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "drop rate of one", modify: func(c *Config) { c.Sim.DropRate = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CAN.Transport = "udp"
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can.transport")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casterd.yaml")
	data := `
can:
  transport: sim
  node_id: 3
driver:
  wheel_diameter: 0.2
  control_period: 20ms
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TransportSim, cfg.CAN.Transport)
	assert.Equal(t, uint8(3), cfg.CAN.NodeID)
	assert.Equal(t, 0.2, cfg.Driver.WheelDiameter)
	assert.Equal(t, 20*time.Millisecond, cfg.Driver.ControlPeriod)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 20*time.Millisecond, cfg.Driver.PollingTimeout)
	assert.Equal(t, "drive_wheel_left_joint", cfg.Driver.LeftJoint)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casterd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"can": {"interface": "can1"}}`), 0o644))
	t.Setenv("CASTERD_CAN_INTERFACE", "vcan0")
	t.Setenv("CASTERD_DRIVER_MAX_SPEED", "0.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "vcan0", cfg.CAN.Interface)
	assert.Equal(t, 0.5, cfg.Driver.MaxSpeed)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	path := filepath.Join(t.TempDir(), "casterd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("can:\n  transport: carrier-pigeon\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "can.transport")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range []string{"yaml", "json"} {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CAN.Transport = TransportSLCAN
			cfg.CAN.SerialPort = "/dev/ttyACM0"
			cfg.Driver.RequireHeartbeat = true
			cfg.Telemetry.CommandTimeout = 750 * time.Millisecond
			cfg.Sim.ReplyDelay = 2 * time.Millisecond

			path := filepath.Join(t.TempDir(), "casterd."+ext)
			require.NoError(t, cfg.SaveConfig(path))
			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoggingBuild(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := LoggingConfig{Level: "warn", Format: format}.Build()
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(-1), "debug is below warn")
		assert.True(t, logger.Core().Enabled(1))
	}
	_, err := LoggingConfig{Level: "nope"}.Build()
	assert.Error(t, err)
}
