// Package config загружает конфигурацию стенда.
//
// Приоритет источников (от высшего):
//  1. Переменные окружения LABRUN_* (точка в ключе → "_": LABRUN_HEATER_TARGET)
//  2. Исторические имена: RABBITMQ_URL, DB_URL, RIG_PORT
//  3. YAML-файл (--config или LABRUN_CONFIG)
//  4. Значения по умолчанию
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/shaiso/Labrun/internal/capture"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/heater"
	"github.com/shaiso/Labrun/internal/mq"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "LABRUN"

// ErrInvalid — конфигурация не прошла проверку.
var ErrInvalid = errors.New("invalid configuration")

// Config — полная конфигурация стенда.
type Config struct {
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Heater   HeaterConfig   `mapstructure:"heater"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
}

// AMQPConfig — подключение к брокеру и топология.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Name     string `mapstructure:"name"`
	Prefetch int    `mapstructure:"prefetch"`

	mq.Topology `mapstructure:",squash"`
}

// DatabaseConfig — журнал прогонов. Пустой URL отключает журнал.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// Enabled проверяет, включён ли журнал.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// HTTPConfig — HTTP сервер (API, /healthz, /metrics).
type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr возвращает адрес для http.Server.
func (c HTTPConfig) Addr() string {
	return ":" + c.Port
}

// WorkflowConfig — выбор workflow: имя пресета или путь к файлу.
type WorkflowConfig struct {
	Ref string `mapstructure:"ref"`

	// Vars — переменные для шаблонов стадий ({{ .Vars.name }}).
	Vars map[string]string `mapstructure:"vars"`
}

// HeaterConfig — фоновое действие и таймауты его остановки.
type HeaterConfig struct {
	Ambient          float64       `mapstructure:"ambient"`
	Target           float64       `mapstructure:"target"`
	Gain             float64       `mapstructure:"gain"`
	Tick             time.Duration `mapstructure:"tick"`
	LogInterval      time.Duration `mapstructure:"log_interval"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	ErrorStopTimeout time.Duration `mapstructure:"error_stop_timeout"`

	// Command — внешний процесс для действия heater_process.
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// HeaterSettings возвращает параметры для heater.NewHeater.
func (c HeaterConfig) HeaterSettings() heater.Config {
	return heater.Config{
		Ambient:     c.Ambient,
		Target:      c.Target,
		Gain:        c.Gain,
		Tick:        c.Tick,
		LogInterval: c.LogInterval,
	}
}

// Process возвращает внешний процесс или nil, если команда не задана.
func (c HeaterConfig) Process() *heater.ProcessAction {
	if c.Command == "" {
		return nil
	}
	return &heater.ProcessAction{
		Command: c.Command,
		Args:    c.Args,
	}
}

// CaptureConfig — публикация снимков.
type CaptureConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	Pattern  string `mapstructure:"pattern"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// Settings возвращает параметры для capture.New.
func (c CaptureConfig) Settings() capture.Config {
	return capture.Config{
		Dir:      c.Dir,
		Pattern:  c.Pattern,
		MaxBytes: c.MaxBytes,
	}
}

// ScriptsConfig — шаг script.
type ScriptsConfig struct {
	Dir         string `mapstructure:"dir"`
	Interpreter string `mapstructure:"interpreter"`
}

// Load читает конфигурацию. path может быть пустым: тогда берётся
// LABRUN_CONFIG, а без него только окружение и значения по умолчанию.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decoderOption()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AMQP.Topology = cfg.AMQP.Topology.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	var errs []error
	if c.AMQP.URL == "" {
		errs = append(errs, errors.New("amqp.url is empty"))
	}
	if c.AMQP.Prefetch < 1 {
		errs = append(errs, errors.New("amqp.prefetch must be >= 1"))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is empty"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.Heater.StopTimeout <= 0 {
		errs = append(errs, errors.New("heater.stop_timeout must be positive"))
	}
	if c.Heater.ErrorStopTimeout <= 0 {
		errs = append(errs, errors.New("heater.error_stop_timeout must be positive"))
	}
	if c.Heater.Tick <= 0 {
		errs = append(errs, errors.New("heater.tick must be positive"))
	}
	if c.Heater.Gain <= 0 || c.Heater.Gain > 1 {
		errs = append(errs, errors.New("heater.gain must be in (0, 1]"))
	}
	if c.Capture.Enabled && c.Capture.Dir == "" {
		errs = append(errs, errors.New("capture.dir is empty"))
	}
	if _, err := engine.Resolve(c.Workflow.Ref); err != nil {
		errs = append(errs, fmt.Errorf("workflow.ref: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// newViper создаёт viper с умолчаниями и привязкой окружения.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Первое имя приоритетнее.
	_ = v.BindEnv("amqp.url", EnvPrefix+"_AMQP_URL", "RABBITMQ_URL")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DB_URL")
	_ = v.BindEnv("http.port", EnvPrefix+"_HTTP_PORT", "RIG_PORT")
	return v
}

func setDefaults(v *viper.Viper) {
	t := mq.DefaultTopology()
	v.SetDefault("amqp.url", mq.DefaultURL())
	v.SetDefault("amqp.name", "labrun-rig")
	v.SetDefault("amqp.prefetch", 10)
	v.SetDefault("amqp.exchange", t.Exchange)
	v.SetDefault("amqp.command_key", t.CommandKey)
	v.SetDefault("amqp.confirm_key", t.ConfirmKey)
	v.SetDefault("amqp.status_key", t.StatusKey)
	v.SetDefault("amqp.image_key", t.ImageKey)
	v.SetDefault("amqp.image_raw_key", t.ImageRawKey)
	v.SetDefault("amqp.command_queue", t.CommandQueue)
	v.SetDefault("amqp.confirm_queue", t.ConfirmQueue)

	v.SetDefault("database.url", "")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("workflow.ref", engine.PresetClassic)

	v.SetDefault("heater.ambient", heater.DefaultAmbient)
	v.SetDefault("heater.target", heater.DefaultTarget)
	v.SetDefault("heater.gain", heater.DefaultGain)
	v.SetDefault("heater.tick", heater.DefaultTick.String())
	v.SetDefault("heater.log_interval", heater.DefaultLogInterval.String())
	v.SetDefault("heater.stop_timeout", "20s")
	v.SetDefault("heater.error_stop_timeout", "10s")
	v.SetDefault("heater.command", "")
	v.SetDefault("heater.args", []string{})

	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.dir", capture.DefaultDir)
	v.SetDefault("capture.pattern", capture.DefaultPattern)
	v.SetDefault("capture.max_bytes", capture.DefaultMaxBytes)

	v.SetDefault("scripts.dir", "scripts")
	v.SetDefault("scripts.interpreter", "python3")
}

// decoderOption — длительности задаются строками ("250ms"),
// списки из окружения через запятую.
func decoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)
}
