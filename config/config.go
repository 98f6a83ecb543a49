package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eddielth/serial-bridge/logger"
)

// Config is the bridge configuration
type Config struct {
	Serial       SerialConfig           `mapstructure:"serial"`
	MQTT         MQTTConfig             `mapstructure:"mqtt"`
	Filter       FilterConfig           `mapstructure:"filter"`
	Transformers map[string]Transformer `mapstructure:"transformers"`
	Storage      StorageConfig          `mapstructure:"storage"`
	Logger       LoggerConfig           `mapstructure:"logger"`
}

// SerialConfig describes the serial device
type SerialConfig struct {
	Port             string `mapstructure:"port"`
	Baud             int    `mapstructure:"baud"`
	ReconnectDelayMS int    `mapstructure:"reconnection_delay_ms"`
}

// MQTTConfig describes the broker session
type MQTTConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	ClientID         string `mapstructure:"client_id"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	KeepAliveSeconds int    `mapstructure:"keep_alive_seconds"`
	ReconnectDelayMS int    `mapstructure:"reconnection_delay_ms"`
}

// FilterConfig holds per-channel rate filters
type FilterConfig struct {
	// AnemometerSeconds is the minimum interval between forwarded anemometer samples.
	AnemometerSeconds int `mapstructure:"anemometer_seconds"`
}

// Transformer is an optional JS script applied to one channel's payloads
type Transformer struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// LoggerConfig 表示日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// StorageConfig configures the traffic archive
type StorageConfig struct {
	File     FileStorageConfig     `mapstructure:"file"`
	Database DatabaseStorageConfig `mapstructure:"database"`
	InfluxDB InfluxDBStorageConfig `mapstructure:"influxdb"`
}

// FileStorageConfig 表示文件存储配置
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseStorageConfig selects a SQL backend: mysql, postgresql or sqlite
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// InfluxDBStorageConfig 表示InfluxDB存储配置
type InfluxDBStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// ConfigChangeCallback 是配置文件变更时的回调函数类型
type ConfigChangeCallback func(cfg *Config) error

// SerialReconnectDelay returns the serial reconnection delay.
func (c *Config) SerialReconnectDelay() time.Duration {
	return time.Duration(c.Serial.ReconnectDelayMS) * time.Millisecond
}

// MQTTReconnectDelay returns the MQTT reconnection delay.
func (c *Config) MQTTReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelayMS) * time.Millisecond
}

// AnemometerFilter returns the anemometer rate-filter window.
func (c *Config) AnemometerFilter() time.Duration {
	return time.Duration(c.Filter.AnemometerSeconds) * time.Second
}

// KeepAlive returns the MQTT keep-alive interval.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAliveSeconds) * time.Second
}

// Validate checks the settings the bridge cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port cannot be empty"))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt.host cannot be empty"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port))
	}
	if c.MQTT.KeepAliveSeconds < 0 {
		errs = append(errs, errors.New("mqtt.keep_alive_seconds cannot be negative"))
	}
	if c.Filter.AnemometerSeconds < 0 {
		errs = append(errs, errors.New("filter.anemometer_seconds cannot be negative"))
	}
	if c.Serial.ReconnectDelayMS < 0 || c.MQTT.ReconnectDelayMS < 0 {
		errs = append(errs, errors.New("reconnection delays cannot be negative"))
	}
	return errors.Join(errs...)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"port":                         "serial.port",
	"baud":                         "serial.baud",
	"serial-reconnection-delay-ms": "serial.reconnection_delay_ms",
	"mqtt-id":                      "mqtt.client_id",
	"mqtt-host":                    "mqtt.host",
	"mqtt-port":                    "mqtt.port",
	"mqtt-reconnection-delay-ms":   "mqtt.reconnection_delay_ms",
	"filter-seconds":               "filter.anemometer_seconds",
}

// NewFlagSet declares the command line flags. Unset flags never override the file.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("config", "config.yaml", "Configuration file path")
	flags.StringP("port", "p", "/dev/ttyACM1", "Communication port")
	flags.IntP("baud", "b", 115200, "Baud rate")
	flags.String("mqtt-id", "server", "MQTT client id")
	flags.String("mqtt-host", "localhost", "MQTT broker host")
	flags.Int("mqtt-port", 1883, "MQTT broker port")
	flags.Int("filter-seconds", 0, "Minimum seconds between forwarded anemometer messages")
	flags.Int("mqtt-reconnection-delay-ms", 5000, "MQTT re-connection delay in ms (milliseconds)")
	flags.Int("serial-reconnection-delay-ms", 5000, "Serial re-connection delay in ms (milliseconds)")
	return flags
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyACM1")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.reconnection_delay_ms", 5000)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "server")
	v.SetDefault("mqtt.keep_alive_seconds", 30)
	v.SetDefault("mqtt.reconnection_delay_ms", 5000)
	v.SetDefault("filter.anemometer_seconds", 0)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

// Loader owns the viper instance so that reloads see the same flag and env bindings.
type Loader struct {
	v    *viper.Viper
	path string

	mu sync.Mutex
}

// NewLoader creates a loader for configPath. flags may be nil.
// A missing configuration file is not an error; defaults and flags apply.
func NewLoader(configPath string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flagName, key := range flagKeys {
			f := flags.Lookup(flagName)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
			}
		}
	}

	return &Loader{v: v, path: configPath}, nil
}

// Load reads the file (if present) and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		l.v.SetConfigFile(l.path)
		l.v.SetConfigType("yaml")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", l.path, err)
			}
			logger.Warn("config file %s not found, using defaults and flags", l.path)
		}
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// LoadConfig loads configPath without command line overrides.
func LoadConfig(configPath string) (*Config, error) {
	l, err := NewLoader(configPath, nil)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// WatchConfig watches the configuration file and invokes callback with the
// reloaded configuration. Bursts of write events within two seconds are
// collapsed into one reload.
func (l *Loader) WatchConfig(callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.v.SetConfigFile(absPath)
	l.mu.Unlock()

	var lastChangeTime time.Time
	const debounceInterval = 2 * time.Second

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) {
			return
		}
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			return
		}
		lastChangeTime = now

		logger.Info("config file changed: %s", e.Name)

		l.mu.Lock()
		newConfig, err := l.unmarshal()
		l.mu.Unlock()
		if err != nil {
			logger.Error("failed to apply changed config: %v", err)
			return
		}

		if err := callback(newConfig); err != nil {
			logger.Error("failed to apply changed config: %v", err)
			return
		}
		logger.Info("config reloaded")
	})
	l.v.WatchConfig()

	return nil
}
