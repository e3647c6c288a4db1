// Package config holds the casterd configuration: typed sections with
// defaults, validation, and loading from file and environment via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
)

// Transport names accepted in can.transport.
const (
	TransportSocketCAN = "socketcan"
	TransportSLCAN     = "slcan"
	TransportSim       = "sim"
)

// EnvPrefix prefixes environment overrides, e.g. CASTERD_CAN_INTERFACE.
const EnvPrefix = "CASTERD"

// Config is the full casterd configuration.
type Config struct {
	CAN       CANConfig       `json:"can" mapstructure:"can"`
	Driver    DriverConfig    `json:"driver" mapstructure:"driver"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Sim       SimConfig       `json:"sim" mapstructure:"sim"`
}

// CANConfig selects and sets up the transport.
type CANConfig struct {
	Transport string `json:"transport" mapstructure:"transport"`
	Interface string `json:"interface" mapstructure:"interface"`
	NodeID    uint8  `json:"node_id" mapstructure:"node_id"`
	// BringUp configures the bitrate and brings a SocketCAN link up before
	// opening it. Needs CAP_NET_ADMIN.
	BringUp    bool   `json:"bring_up" mapstructure:"bring_up"`
	Bitrate    uint32 `json:"bitrate" mapstructure:"bitrate"`
	RestartMs  uint32 `json:"restart_ms" mapstructure:"restart_ms"`
	SerialPort string `json:"serial_port" mapstructure:"serial_port"`
	SerialBaud int    `json:"serial_baud" mapstructure:"serial_baud"`
	LogFrames  bool   `json:"log_frames" mapstructure:"log_frames"`
}

// DriverConfig mirrors caster.Config.
type DriverConfig struct {
	LeftJoint          string        `json:"left_joint" mapstructure:"left_joint"`
	RightJoint         string        `json:"right_joint" mapstructure:"right_joint"`
	WheelDiameter      float64       `json:"wheel_diameter" mapstructure:"wheel_diameter"`
	TicksPerRevolution float64       `json:"ticks_per_revolution" mapstructure:"ticks_per_revolution"`
	MaxAccel           float64       `json:"max_accel" mapstructure:"max_accel"`
	MaxSpeed           float64       `json:"max_speed" mapstructure:"max_speed"`
	PollingTimeout     time.Duration `json:"polling_timeout" mapstructure:"polling_timeout"`
	ControlPeriod      time.Duration `json:"control_period" mapstructure:"control_period"`
	PollFlags          bool          `json:"poll_flags" mapstructure:"poll_flags"`
	HeartbeatTimeout   time.Duration `json:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	RequireHeartbeat   bool          `json:"require_heartbeat" mapstructure:"require_heartbeat"`
}

// TelemetryConfig controls the HTTP/websocket server and the recorder.
type TelemetryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
	// CommandTimeout zeroes websocket wheel commands that are not refreshed.
	CommandTimeout time.Duration `json:"command_timeout" mapstructure:"command_timeout"`
	// RecordPath, if set, receives a CBOR snapshot per tick.
	RecordPath string `json:"record_path" mapstructure:"record_path"`
}

// LoggingConfig selects the zap logger.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// SimConfig tunes the simulated controller.
type SimConfig struct {
	TicksPerRevolution float64       `json:"ticks_per_revolution" mapstructure:"ticks_per_revolution"`
	ReplyDelay         time.Duration `json:"reply_delay" mapstructure:"reply_delay"`
	DropRate           float64       `json:"drop_rate" mapstructure:"drop_rate"`
	HeartbeatPeriod    time.Duration `json:"heartbeat_period" mapstructure:"heartbeat_period"`
}

// DefaultConfig returns the configuration of a stock base on can0.
func DefaultConfig() *Config {
	d := caster.DefaultConfig()
	return &Config{
		CAN: CANConfig{
			Transport:  TransportSocketCAN,
			Interface:  "can0",
			NodeID:     uint8(d.Node),
			Bitrate:    250000,
			SerialBaud: 115200,
		},
		Driver: DriverConfig{
			LeftJoint:          d.JointNames[0],
			RightJoint:         d.JointNames[1],
			WheelDiameter:      d.WheelDiameter,
			TicksPerRevolution: d.TicksPerRevolution,
			MaxAccel:           d.MaxAccel,
			MaxSpeed:           d.MaxSpeed,
			PollingTimeout:     d.QueryTimeout,
			ControlPeriod:      d.ControlPeriod,
			PollFlags:          d.PollFlags,
			HeartbeatTimeout:   d.HeartbeatTimeout,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:9100",
			CommandTimeout: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sim: SimConfig{
			TicksPerRevolution: d.TicksPerRevolution,
			HeartbeatPeriod:    100 * time.Millisecond,
		},
	}
}

// settings flattens the config into viper keys. Durations are written in
// their string form so saved files stay readable.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"can.transport":   c.CAN.Transport,
		"can.interface":   c.CAN.Interface,
		"can.node_id":     c.CAN.NodeID,
		"can.bring_up":    c.CAN.BringUp,
		"can.bitrate":     c.CAN.Bitrate,
		"can.restart_ms":  c.CAN.RestartMs,
		"can.serial_port": c.CAN.SerialPort,
		"can.serial_baud": c.CAN.SerialBaud,
		"can.log_frames":  c.CAN.LogFrames,

		"driver.left_joint":           c.Driver.LeftJoint,
		"driver.right_joint":          c.Driver.RightJoint,
		"driver.wheel_diameter":       c.Driver.WheelDiameter,
		"driver.ticks_per_revolution": c.Driver.TicksPerRevolution,
		"driver.max_accel":            c.Driver.MaxAccel,
		"driver.max_speed":            c.Driver.MaxSpeed,
		"driver.polling_timeout":      c.Driver.PollingTimeout.String(),
		"driver.control_period":       c.Driver.ControlPeriod.String(),
		"driver.poll_flags":           c.Driver.PollFlags,
		"driver.heartbeat_timeout":    c.Driver.HeartbeatTimeout.String(),
		"driver.require_heartbeat":    c.Driver.RequireHeartbeat,

		"telemetry.enabled":         c.Telemetry.Enabled,
		"telemetry.listen":          c.Telemetry.Listen,
		"telemetry.command_timeout": c.Telemetry.CommandTimeout.String(),
		"telemetry.record_path":     c.Telemetry.RecordPath,

		"logging.level":  c.Logging.Level,
		"logging.format": c.Logging.Format,

		"sim.ticks_per_revolution": c.Sim.TicksPerRevolution,
		"sim.reply_delay":          c.Sim.ReplyDelay.String(),
		"sim.drop_rate":            c.Sim.DropRate,
		"sim.heartbeat_period":     c.Sim.HeartbeatPeriod.String(),
	}
}

// LoadConfig reads the config file at path, or searches for casterd.yaml /
// casterd.json in the working directory, /etc/casterd and ~/.casterd when
// path is empty. A missing search file is not an error. Environment
// variables override both.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for k, val := range DefaultConfig().settings() {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("casterd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/casterd/")
		v.AddConfigPath("$HOME/.casterd/")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the config to path. The format follows the extension
// (.yaml, .yml, .json, .toml).
func (c *Config) SaveConfig(path string) error {
	v := viper.New()
	for k, val := range c.settings() {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	switch c.CAN.Transport {
	case TransportSocketCAN:
		if c.CAN.Interface == "" {
			errs = multierr.Append(errs, errors.New("can.interface is required for socketcan"))
		}
	case TransportSLCAN:
		if c.CAN.SerialPort == "" {
			errs = multierr.Append(errs, errors.New("can.serial_port is required for slcan"))
		}
		if c.CAN.SerialBaud < 0 {
			errs = multierr.Append(errs, fmt.Errorf("can.serial_baud must not be negative, got %d", c.CAN.SerialBaud))
		}
	case TransportSim:
	default:
		errs = multierr.Append(errs, fmt.Errorf("can.transport must be %s, %s or %s, got %q",
			TransportSocketCAN, TransportSLCAN, TransportSim, c.CAN.Transport))
	}
	if (c.CAN.BringUp || c.CAN.Transport == TransportSLCAN) && c.CAN.Bitrate == 0 {
		errs = multierr.Append(errs, errors.New("can.bitrate is required"))
	}

	if err := c.Caster().Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.Telemetry.Enabled && c.Telemetry.Listen == "" {
		errs = multierr.Append(errs, errors.New("telemetry.listen is required when telemetry is enabled"))
	}
	if c.Telemetry.CommandTimeout < 0 {
		errs = multierr.Append(errs, errors.New("telemetry.command_timeout must not be negative"))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = multierr.Append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Sim.DropRate < 0 || c.Sim.DropRate >= 1 {
		errs = multierr.Append(errs, fmt.Errorf("sim.drop_rate must be in [0, 1), got %v", c.Sim.DropRate))
	}
	if c.Sim.ReplyDelay < 0 || c.Sim.HeartbeatPeriod < 0 {
		errs = multierr.Append(errs, errors.New("sim durations must not be negative"))
	}

	if errs != nil {
		return fmt.Errorf("config: %w", errs)
	}
	return nil
}

// Caster returns the driver parameters for the configured node.
func (c *Config) Caster() caster.Config {
	return c.Driver.Caster(c.CAN.NodeID)
}

// Caster converts the section to a caster.Config for node.
func (d DriverConfig) Caster(node uint8) caster.Config {
	return caster.Config{
		Node:               canopen.NodeID(node),
		JointNames:         [2]string{d.LeftJoint, d.RightJoint},
		TicksPerRevolution: d.TicksPerRevolution,
		WheelDiameter:      d.WheelDiameter,
		MaxAccel:           d.MaxAccel,
		MaxSpeed:           d.MaxSpeed,
		QueryTimeout:       d.PollingTimeout,
		ControlPeriod:      d.ControlPeriod,
		PollFlags:          d.PollFlags,
		HeartbeatTimeout:   d.HeartbeatTimeout,
		RequireHeartbeat:   d.RequireHeartbeat,
	}
}

// Build creates the logger described by the section: JSON production
// output or the colored development console.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config: logging.level: %w", err)
	}
	var zc zap.Config
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
