// Package config provides configuration loading, defaults and validation for
// the upsmon daemon.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jamesprial/upsmon/internal/classify"
	"github.com/jamesprial/upsmon/internal/host"
	"github.com/jamesprial/upsmon/internal/protocol"
	"github.com/jamesprial/upsmon/internal/reference"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written in YAML as a Go duration string
// such as "1s" or "500ms".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ResourceFilter holds allowlist and denylist glob patterns.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// ServerConfig holds network and authentication settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// CommandsConfig holds the indexed-string slot of every device report and
// command.
type CommandsConfig struct {
	Telemetry       int `yaml:"telemetry"`
	SelfTest        int `yaml:"self_test"`
	SwitchToBattery int `yaml:"switch_to_battery"`
	SwitchToMains   int `yaml:"switch_to_mains"`
	Shutdown        int `yaml:"shutdown"`
	Reference       int `yaml:"reference"`
}

// DeviceConfig identifies the UPS. Path wins over the vendor/product pair.
type DeviceConfig struct {
	Path          string         `yaml:"path"`
	VendorID      uint16         `yaml:"vendor_id"`
	ProductID     uint16         `yaml:"product_id"`
	RetryInterval Duration       `yaml:"retry_interval"`
	Commands      CommandsConfig `yaml:"commands"`
}

// ReferenceConfig selects where the reference profile comes from.
type ReferenceConfig struct {
	Source string                    `yaml:"source"`
	Static protocol.ReferenceProfile `yaml:"static"`
}

// MonitorConfig holds the monitoring loop timings.
type MonitorConfig struct {
	PollInterval     Duration `yaml:"poll_interval"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
}

// WatchdogConfig holds the auto-shutdown settings.
type WatchdogConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Interval      Duration `yaml:"interval"`
	RetryDelay    Duration `yaml:"retry_delay"`
	BatteryMargin float64  `yaml:"battery_margin"`
}

// HostConfig controls how the host is powered off and which VMs are
// stopped first.
type HostConfig struct {
	Method        string         `yaml:"method"`
	Command       string         `yaml:"command"`
	StopVMs       bool           `yaml:"stop_vms"`
	LibvirtSocket string         `yaml:"libvirt_socket"`
	VMs           ResourceFilter `yaml:"vms"`
	VMStopTimeout Duration       `yaml:"vm_stop_timeout"`
}

// MQTTConfig holds the broker connection and topics.
type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TelemetryTopic string `yaml:"telemetry_topic"`
	EventTopic     string `yaml:"event_topic"`
	QoS            byte   `yaml:"qos"`
	Retain         bool   `yaml:"retain"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// Config is the top-level configuration structure for upsmon.
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Device     DeviceConfig        `yaml:"device"`
	Reference  ReferenceConfig     `yaml:"reference"`
	Thresholds classify.Thresholds `yaml:"thresholds"`
	Monitor    MonitorConfig       `yaml:"monitor"`
	Watchdog   WatchdogConfig      `yaml:"watchdog"`
	Host       HostConfig          `yaml:"host"`
	MQTT       MQTTConfig          `yaml:"mqtt"`
	Audit      AuditConfig         `yaml:"audit"`
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig, so
// keys missing from the file keep their defaults. On error, nil is
// returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with the values the device
// firmware expects. Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Device: DeviceConfig{
			RetryInterval: Duration(5 * time.Second),
			Commands: CommandsConfig{
				Telemetry:       protocol.IndexTelemetry,
				SelfTest:        protocol.IndexSelfTest,
				SwitchToBattery: protocol.IndexSwitchToBattery,
				SwitchToMains:   protocol.IndexSwitchToMains,
				Shutdown:        protocol.IndexShutdown,
				Reference:       protocol.IndexReference,
			},
		},
		Reference: ReferenceConfig{
			Source: reference.KindDevice,
		},
		Thresholds: classify.DefaultThresholds(),
		Monitor: MonitorConfig{
			PollInterval:     Duration(time.Second),
			ReconnectBackoff: Duration(5 * time.Second),
		},
		Watchdog: WatchdogConfig{
			Enabled:       true,
			Interval:      Duration(20 * time.Second),
			RetryDelay:    Duration(15 * time.Second),
			BatteryMargin: 0.1,
		},
		Host: HostConfig{
			Method:        host.MethodLogind,
			Command:       host.DefaultCommand,
			LibvirtSocket: "/var/run/libvirt/libvirt-sock",
			VMStopTimeout: Duration(60 * time.Second),
		},
		MQTT: MQTTConfig{
			ClientID:       "upsmon",
			TelemetryTopic: "upsmon/telemetry",
			EventTopic:     "upsmon/events",
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/var/log/upsmon/audit.log",
		},
	}
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - UPSMON_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - UPSMON_PORT overrides cfg.Server.Port
//   - UPSMON_DEVICE_PATH overrides cfg.Device.Path
//   - UPSMON_HOST_METHOD overrides cfg.Host.Method
//   - UPSMON_WATCHDOG_ENABLED overrides cfg.Watchdog.Enabled
//   - UPSMON_MQTT_BROKER overrides cfg.MQTT.Broker and enables MQTT
//   - UPSMON_MQTT_USERNAME and UPSMON_MQTT_PASSWORD override the broker credentials
//
// Empty variables are ignored. A variable that fails to parse is reported
// and leaves its field unchanged.
func ApplyEnvOverrides(cfg *Config) error {
	var errs []error

	if token := os.Getenv("UPSMON_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if v := os.Getenv("UPSMON_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("UPSMON_PORT: %w", err))
		} else {
			cfg.Server.Port = port
		}
	}
	if path := os.Getenv("UPSMON_DEVICE_PATH"); path != "" {
		cfg.Device.Path = path
	}
	if method := os.Getenv("UPSMON_HOST_METHOD"); method != "" {
		cfg.Host.Method = method
	}
	if v := os.Getenv("UPSMON_WATCHDOG_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("UPSMON_WATCHDOG_ENABLED: %w", err))
		} else {
			cfg.Watchdog.Enabled = enabled
		}
	}
	if broker := os.Getenv("UPSMON_MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
		cfg.MQTT.Enabled = true
	}
	if user := os.Getenv("UPSMON_MQTT_USERNAME"); user != "" {
		cfg.MQTT.Username = user
	}
	if pass := os.Getenv("UPSMON_MQTT_PASSWORD"); pass != "" {
		cfg.MQTT.Password = pass
	}

	return errors.Join(errs...)
}

// Validate reports every setting that would make the daemon misbehave.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("server.port %d out of range", c.Server.Port)
	}

	cmds := []struct {
		name string
		idx  int
	}{
		{"telemetry", c.Device.Commands.Telemetry},
		{"self_test", c.Device.Commands.SelfTest},
		{"switch_to_battery", c.Device.Commands.SwitchToBattery},
		{"switch_to_mains", c.Device.Commands.SwitchToMains},
		{"shutdown", c.Device.Commands.Shutdown},
		{"reference", c.Device.Commands.Reference},
	}
	for _, cmd := range cmds {
		if cmd.idx <= 0 || cmd.idx > 255 {
			fail("device.commands.%s: index %d out of range 1..255", cmd.name, cmd.idx)
		}
	}
	if c.Device.RetryInterval <= 0 {
		fail("device.retry_interval must be positive")
	}

	switch c.Reference.Source {
	case reference.KindDevice:
	case reference.KindStatic:
		if c.Reference.Static.Voltage <= 0 {
			fail("reference.static.voltage must be positive")
		}
	default:
		fail("reference.source %q: want %s or %s", c.Reference.Source, reference.KindDevice, reference.KindStatic)
	}

	th := c.Thresholds
	if th.VoltageWarnAbove >= th.VoltageCriticalAbove {
		fail("thresholds: voltage_warn_above must be below voltage_critical_above")
	}
	if th.BatteryWarning >= th.BatteryNominal {
		fail("thresholds: battery_warning must be below battery_nominal")
	}
	if th.PowerWarnAbove >= th.PowerCriticalAbove {
		fail("thresholds: power_warn_above must be below power_critical_above")
	}
	if !th.ExpectedPowerBasis.Valid() {
		fail("thresholds: expected_power_basis %q: want %s or %s",
			th.ExpectedPowerBasis, protocol.PowerBasisFrequency, protocol.PowerBasisVoltage)
	}
	if th.FrequencyTolerance <= 0 {
		fail("thresholds: frequency_tolerance must be positive")
	}

	if c.Monitor.PollInterval <= 0 {
		fail("monitor.poll_interval must be positive")
	}
	if c.Monitor.ReconnectBackoff < 0 {
		fail("monitor.reconnect_backoff must not be negative")
	}

	if c.Watchdog.Enabled {
		if c.Watchdog.Interval <= 0 {
			fail("watchdog.interval must be positive")
		}
		if c.Watchdog.RetryDelay < 0 {
			fail("watchdog.retry_delay must not be negative")
		}
		if c.Watchdog.BatteryMargin < 0 {
			fail("watchdog.battery_margin must not be negative")
		}
	}

	switch c.Host.Method {
	case host.MethodLogind, host.MethodDryRun:
	case host.MethodCommand:
		if c.Host.Command == "" {
			fail("host.command must be set for method %q", host.MethodCommand)
		}
	default:
		fail("host.method %q: want %s, %s or %s", c.Host.Method, host.MethodLogind, host.MethodCommand, host.MethodDryRun)
	}
	if c.Host.StopVMs && c.Host.LibvirtSocket == "" {
		fail("host.libvirt_socket must be set when host.stop_vms is true")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			fail("mqtt.broker must be set when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			fail("mqtt.qos %d out of range 0..2", c.MQTT.QoS)
		}
	}

	return errors.Join(errs...)
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
