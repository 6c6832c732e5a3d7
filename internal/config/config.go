package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/transport"
)

type Modbus struct {
	URL      string        `mapstructure:"url"`
	UnitID   uint8         `mapstructure:"unit_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Speed    uint          `mapstructure:"speed"`
	DataBits uint          `mapstructure:"data_bits"`
	StopBits uint          `mapstructure:"stop_bits"`
}

type Protocol struct {
	StatusBase  int           `mapstructure:"status_base"`
	CommandBase int           `mapstructure:"command_base"`
	Settle      time.Duration `mapstructure:"settle"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Backoff     time.Duration `mapstructure:"backoff"`
	// BusyWait is how long a control request waits for the previous one before it is
	// answered with "retry".
	BusyWait time.Duration `mapstructure:"busy_wait"`
	// ResetMarginSeconds is added to a device's traversal time when reset closes it.
	ResetMarginSeconds int `mapstructure:"reset_margin_seconds"`
}

type DeviceOverride struct {
	Register        *int `mapstructure:"register"`
	TraverseSeconds *int `mapstructure:"traverse_seconds"`
}

type Influx struct {
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Org      string        `mapstructure:"org"`
	Bucket   string        `mapstructure:"bucket"`
	Lookback time.Duration `mapstructure:"lookback"`
}

type Store struct {
	Backend string `mapstructure:"backend"`
	DBPath  string `mapstructure:"db_path"`
	Influx  Influx `mapstructure:"influx"`
}

type Sensor struct {
	Name     string  `mapstructure:"name"`
	Register uint16  `mapstructure:"register"`
	Scale    float64 `mapstructure:"scale"`
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	// MaxDelta is the largest accepted jump from the last good reading; zero disables the check.
	MaxDelta float64 `mapstructure:"max_delta"`
}

type Sensors struct {
	Schedule     string   `mapstructure:"schedule"`
	MaxAnomalies int      `mapstructure:"max_anomalies"`
	Sensors      []Sensor `mapstructure:"sensors"`
}

type Config struct {
	ConfigFile string        `mapstructure:"-"`
	LogLevel   zerolog.Level `mapstructure:"-"`

	LogFile     string   `mapstructure:"log_file"`
	SafeMode    bool     `mapstructure:"safe_mode"`
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// LegacyStatusNames keys GET /status by the Korean names the dashboard expects.
	LegacyStatusNames bool `mapstructure:"legacy_status_names"`

	Modbus   Modbus                    `mapstructure:"modbus"`
	Protocol Protocol                  `mapstructure:"protocol"`
	Devices  map[string]DeviceOverride `mapstructure:"devices"`
	Store    Store                     `mapstructure:"store"`
	Sensors  Sensors                   `mapstructure:"sensors"`

	EnableDatadog bool     `mapstructure:"enable_datadog"`
	DDAgentAddr   string   `mapstructure:"dd_agent_addr"`
	DDNamespace   string   `mapstructure:"dd_namespace"`
	DDTags        []string `mapstructure:"dd_tags"`

	NtfyURL   string `mapstructure:"ntfy_url"`
	NtfyTopic string `mapstructure:"ntfy_topic"`
}

// Load parses the command line and reads the config file it names.
func Load() Config {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configFile := flags.String("config-file", "config.json", "Path to controller config file")
	logLevel := flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	safeMode := flags.Bool("safe-mode", false, "Use the simulated register bank instead of the Modbus node")
	_ = flags.Parse(os.Args[1:])

	cfg := LoadFile(*configFile)
	cfg.LogLevel = parseLogLevel(*logLevel)
	if *safeMode {
		cfg.SafeMode = true
	}
	return cfg
}

// LoadFile reads path, applies GREENHOUSE_* environment overrides and defaults, and panics
// when the result is not usable.
func LoadFile(path string) Config {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("greenhouse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic("Failed to load config file: " + err.Error())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}
	cfg.ConfigFile = path
	cfg.LogLevel = zerolog.InfoLevel

	cfg.validate()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("modbus.url", "tcp://127.0.0.1:502")
	v.SetDefault("modbus.unit_id", 4)
	v.SetDefault("modbus.timeout", "3s")
	v.SetDefault("modbus.speed", 9600)
	v.SetDefault("modbus.data_bits", 8)
	v.SetDefault("modbus.stop_bits", 1)
	v.SetDefault("protocol.status_base", 200)
	v.SetDefault("protocol.command_base", 500)
	v.SetDefault("protocol.settle", "1s")
	v.SetDefault("protocol.max_retries", 3)
	v.SetDefault("protocol.backoff", "1s")
	v.SetDefault("protocol.busy_wait", "5s")
	v.SetDefault("protocol.reset_margin_seconds", 30)
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.db_path", "data/greenhouse.db")
	v.SetDefault("store.influx.lookback", "8760h")
	v.SetDefault("sensors.schedule", "@every 1m")
	v.SetDefault("sensors.max_anomalies", 6)
	v.SetDefault("dd_agent_addr", "127.0.0.1:8125")
	v.SetDefault("dd_namespace", "greenhouse.")
	v.SetDefault("ntfy_url", "https://ntfy.sh")
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Overrides converts the devices section into registry overrides.
func (cfg *Config) Overrides() map[device.ID]device.Override {
	out := make(map[device.ID]device.Override, len(cfg.Devices))
	for name, o := range cfg.Devices {
		id, err := device.ParseID(name)
		if err != nil {
			continue
		}
		out[id] = device.Override{Register: o.Register, TraverseSeconds: o.TraverseSeconds}
	}
	return out
}

// TransportOptions describes the register channel. The in-memory bank used in safe mode
// covers every configured device register.
func (cfg *Config) TransportOptions() transport.Options {
	return transport.Options{
		SafeMode: cfg.SafeMode,
		Modbus: transport.ModbusConfig{
			URL:      cfg.Modbus.URL,
			UnitID:   cfg.Modbus.UnitID,
			Timeout:  cfg.Modbus.Timeout,
			Speed:    cfg.Modbus.Speed,
			DataBits: cfg.Modbus.DataBits,
			StopBits: cfg.Modbus.StopBits,
		},
		StatusBase:  uint16(cfg.Protocol.StatusBase),
		CommandBase: uint16(cfg.Protocol.CommandBase),
		Blocks:      uint16(cfg.Registry().MaxRegister() + protocol.CommandWords),
	}
}

// Registry builds the device registry with the configured overrides applied.
func (cfg *Config) Registry() *device.Registry {
	return device.NewRegistry(cfg.Overrides())
}

func (cfg *Config) validate() {
	var problems []string

	static := device.NewRegistry(nil)
	for name, o := range cfg.Devices {
		id, err := device.ParseID(name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("devices.%s: unknown device", name))
			continue
		}
		if o.Register != nil && *o.Register < 0 {
			problems = append(problems, fmt.Sprintf("devices.%s.register must not be negative", name))
		}
		if o.TraverseSeconds != nil {
			if *o.TraverseSeconds <= 0 {
				problems = append(problems, fmt.Sprintf("devices.%s.traverse_seconds must be positive", name))
			}
			if !static.Get(id).Timed() {
				problems = append(problems, fmt.Sprintf("devices.%s is not a timed device", name))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		panic("Invalid device config: " + strings.Join(problems, ", "))
	}

	usedRegisters := map[int]string{}
	var conflicts []string
	for _, d := range cfg.Registry().All() {
		if other, exists := usedRegisters[d.Register]; exists {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s both use register %d", d.Name, other, d.Register))
			continue
		}
		usedRegisters[d.Register] = d.Name
	}
	if len(conflicts) > 0 {
		panic("Conflicting device registers: " + strings.Join(conflicts, ", "))
	}

	// Blocks must fit the 16-bit address space or addresses silently wrap.
	for _, base := range []struct {
		name  string
		value int
	}{
		{"protocol.status_base", cfg.Protocol.StatusBase},
		{"protocol.command_base", cfg.Protocol.CommandBase},
	} {
		if base.value < 0 {
			panic(fmt.Sprintf("%s must not be negative", base.name))
		}
		for _, d := range cfg.Registry().All() {
			if end := base.value + d.Register + protocol.StatusWords - 1; end > math.MaxUint16 {
				panic(fmt.Sprintf("%s: %s block ends at %d, beyond register 65535", d.Name, base.name, end))
			}
		}
	}

	switch cfg.Store.Backend {
	case "", "sqlite":
	case "influxdb":
		if cfg.Store.Influx.URL == "" || cfg.Store.Influx.Bucket == "" {
			panic("store.influx.url and store.influx.bucket are required for the influxdb backend")
		}
	default:
		panic("Unsupported store backend: " + cfg.Store.Backend)
	}

	if cfg.Protocol.MaxRetries < 1 {
		panic("protocol.max_retries must be at least 1")
	}
	for i, s := range cfg.Sensors.Sensors {
		if s.Name == "" {
			panic(fmt.Sprintf("sensors.sensors[%d] has no name", i))
		}
		if s.Max <= s.Min {
			panic(fmt.Sprintf("sensor %s: max must be greater than min", s.Name))
		}
	}
}
