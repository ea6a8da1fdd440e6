package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Meeting  MeetingConfig  `yaml:"meeting"`
	Client   ClientConfig   `yaml:"client"`
}

type HTTPConfig struct {
	Address           string        `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins    []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

// DatabaseConfig configures the postgres connection. An empty DSN selects
// the in-memory repositories.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"DATABASE_DSN" env-default:""`
	MaxIdleConns    int           `yaml:"max_idle_conns" env-default:"10"`
	MaxOpenConns    int           `yaml:"max_open_conns" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"30m"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:""`
}

type WebRTCConfig struct {
	STUNServers []string   `yaml:"stun_servers"`
	TURN        TURNConfig `yaml:"turn"`
}

// TURNConfig enables time-limited relay credentials when Secret is set.
type TURNConfig struct {
	URLs   []string      `yaml:"urls"`
	Secret string        `yaml:"secret" env:"TURN_SECRET"`
	TTL    time.Duration `yaml:"ttl" env-default:"12h"`
}

type MeetingConfig struct {
	EarlyJoin     time.Duration `yaml:"early_join" env-default:"10m"`
	ReadyDelay    time.Duration `yaml:"ready_delay" env-default:"500ms"`
	ReopenGrace   time.Duration `yaml:"reopen_grace" env-default:"15m"`
	MaxReopens    int           `yaml:"max_reopens" env-default:"3"`
	EndPolicy     string        `yaml:"end_policy" env:"MEETING_END_POLICY" env-default:"any"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

// ClientConfig is read by the headless peer client.
type ClientConfig struct {
	ServerURL string `yaml:"server_url" env:"CLIENT_SERVER_URL" env-default:"ws://localhost:8080/api/ws/meetings"`
	ICEURL    string `yaml:"ice_url" env:"CLIENT_ICE_URL" env-default:"http://localhost:8080/api/rtc/ice-servers"`
	Token     string `yaml:"token" env:"CLIENT_TOKEN"`
	SessionID string `yaml:"session_id" env:"CLIENT_SESSION_ID"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadPath reads the YAML file when it exists and falls back to environment
// variables otherwise.
func LoadPath(configPath string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, err
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.WebRTC.TURN.TTL <= 0 {
		c.WebRTC.TURN.TTL = 12 * time.Hour
	}
	c.Meeting.EndPolicy = string(domain.ParseEndPolicy(c.Meeting.EndPolicy))
	if c.Meeting.SweepInterval <= 0 {
		c.Meeting.SweepInterval = time.Minute
	}
	if c.Meeting.MaxReopens < 0 {
		c.Meeting.MaxReopens = 0
	}
}
