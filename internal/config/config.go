package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cybercyphers/cyphbeta/internal/logging"
)

type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Paths     PathsConfig
	Reconnect ReconnectConfig
	Schedule  ScheduleConfig
	Delivery  DeliveryConfig
	Redis     RedisConfig
	Log       LogConfig
	Creator   CreatorConfig
}

type ServerConfig struct {
	Address string
}

type GatewayConfig struct {
	URL         string
	DialTimeout time.Duration
}

// PathsConfig holds absolute-or-STATE_DIR-relative file locations.
type PathsConfig struct {
	StateDir  string
	AuthDir   string
	Settings  string
	AllowList string
	Schedules string
}

type ReconnectConfig struct {
	Base     time.Duration
	Step     time.Duration
	Cap      time.Duration
	Budget   int
	Fallback time.Duration
}

type ScheduleConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

type DeliveryConfig struct {
	RatePerSecond float64
	Burst         int
	ContentMax    int
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CreatorConfig struct {
	Name     string
	Phone    string
	Telegram string
}

// PathsEnv is embedded so envconfig reads its keys unprefixed.
type PathsEnv struct {
	StateDir      string `envconfig:"STATE_DIR" default:"."`
	AuthDir       string `envconfig:"AUTH_DIR" default:"auth_info"`
	SettingsFile  string `envconfig:"SETTINGS_FILE" default:"config.json"`
	AllowListFile string `envconfig:"ALLOWLIST_FILE" default:"allowed_users.json"`
	ScheduleFile  string `envconfig:"SCHEDULE_FILE" default:"data/schedules.json"`
}

type env struct {
	PathsEnv

	HTTPAddress string        `envconfig:"HTTP_ADDRESS" default:":8080"`
	GatewayURL  string        `envconfig:"GATEWAY_URL" required:"true"`
	DialTimeout time.Duration `envconfig:"GATEWAY_DIAL_TIMEOUT" default:"30s"`

	ReconnectBase     time.Duration `envconfig:"RECONNECT_BASE" default:"2s"`
	ReconnectStep     time.Duration `envconfig:"RECONNECT_STEP" default:"1s"`
	ReconnectCap      time.Duration `envconfig:"RECONNECT_CAP" default:"15s"`
	ReconnectBudget   int           `envconfig:"RECONNECT_BUDGET" default:"20"`
	ReconnectFallback time.Duration `envconfig:"RECONNECT_FALLBACK" default:"5s"`

	ScheduleRetention time.Duration `envconfig:"SCHEDULE_RETENTION" default:"168h"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`

	SendRPS    float64 `envconfig:"SEND_RPS" default:"5"`
	SendBurst  int     `envconfig:"SEND_BURST" default:"10"`
	ContentMax int     `envconfig:"CONTENT_MAX" default:"4096"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL      time.Duration `envconfig:"REDIS_TTL" default:"24h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	CreatorName     string `envconfig:"CREATOR_NAME" default:"CyberCyphers"`
	CreatorPhone    string `envconfig:"CREATOR_PHONE"`
	CreatorTelegram string `envconfig:"CREATOR_TELEGRAM"`
}

// LoadAll reads the process environment. Every validation problem is
// reported in one joined error.
func LoadAll() (*Config, error) {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{Address: e.HTTPAddress},
		Gateway: GatewayConfig{
			URL:         strings.TrimRight(e.GatewayURL, "/"),
			DialTimeout: e.DialTimeout,
		},
		Paths: e.PathsEnv.resolved(),
		Reconnect: ReconnectConfig{
			Base:     e.ReconnectBase,
			Step:     e.ReconnectStep,
			Cap:      e.ReconnectCap,
			Budget:   e.ReconnectBudget,
			Fallback: e.ReconnectFallback,
		},
		Schedule: ScheduleConfig{
			Retention:     e.ScheduleRetention,
			SweepInterval: e.SweepInterval,
		},
		Delivery: DeliveryConfig{
			RatePerSecond: e.SendRPS,
			Burst:         e.SendBurst,
			ContentMax:    e.ContentMax,
		},
		Redis: loadRedisConfig(e),
		Log: LogConfig{
			Level:  e.LogLevel,
			Format: strings.ToLower(e.LogFormat),
		},
		Creator: CreatorConfig{
			Name:     e.CreatorName,
			Phone:    e.CreatorPhone,
			Telegram: strings.TrimPrefix(e.CreatorTelegram, "@"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPaths reads only the file locations, for offline maintenance commands
// that never talk to the gateway.
func LoadPaths() (PathsConfig, error) {
	var p PathsEnv
	if err := envconfig.Process("", &p); err != nil {
		return PathsConfig{}, fmt.Errorf("load paths: %w", err)
	}
	return p.resolved(), nil
}

func (p PathsEnv) resolved() PathsConfig {
	return PathsConfig{
		StateDir:  p.StateDir,
		AuthDir:   resolve(p.StateDir, p.AuthDir),
		Settings:  resolve(p.StateDir, p.SettingsFile),
		AllowList: resolve(p.StateDir, p.AllowListFile),
		Schedules: resolve(p.StateDir, p.ScheduleFile),
	}
}

func loadRedisConfig(e env) RedisConfig {
	if e.RedisAddr == "" {
		return RedisConfig{Enabled: false}
	}
	return RedisConfig{
		Enabled:  true,
		Address:  e.RedisAddr,
		Password: e.RedisPassword,
		DB:       e.RedisDB,
		TTL:      e.RedisTTL,
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func validate(cfg *Config) error {
	var errs []error
	positive := func(key string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}

	positive("RECONNECT_BASE", cfg.Reconnect.Base)
	positive("RECONNECT_CAP", cfg.Reconnect.Cap)
	positive("RECONNECT_FALLBACK", cfg.Reconnect.Fallback)
	positive("SCHEDULE_RETENTION", cfg.Schedule.Retention)
	positive("SWEEP_INTERVAL", cfg.Schedule.SweepInterval)
	positive("GATEWAY_DIAL_TIMEOUT", cfg.Gateway.DialTimeout)

	if cfg.Reconnect.Step < 0 {
		errs = append(errs, errors.New("RECONNECT_STEP must be >= 0"))
	}
	if cfg.Reconnect.Base > cfg.Reconnect.Cap {
		errs = append(errs, errors.New("RECONNECT_BASE must be <= RECONNECT_CAP"))
	}
	if cfg.Reconnect.Budget < 0 {
		errs = append(errs, errors.New("RECONNECT_BUDGET must be >= 0"))
	}
	if cfg.Delivery.RatePerSecond <= 0 {
		errs = append(errs, errors.New("SEND_RPS must be > 0"))
	}
	if cfg.Delivery.Burst <= 0 {
		errs = append(errs, errors.New("SEND_BURST must be > 0"))
	}
	if cfg.Delivery.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL must be > 0"))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.Log.Format))
	}
	if u, err := url.Parse(cfg.Gateway.URL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("GATEWAY_URL must be an absolute URL, got %q", cfg.Gateway.URL))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("GATEWAY_URL scheme must be http, https, ws or wss, got %q", u.Scheme))
		}
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
