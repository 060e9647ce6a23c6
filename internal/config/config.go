package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"

	"github.com/Pallinder/go-randomdata"
	"github.com/caarlos0/env/v11"
	"github.com/exelr/roomcast"
	"github.com/exelr/roomcast/internal/logging"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. ROOMCAST_SERVER_PORT.
const EnvPrefix = "ROOMCAST_"

type Config struct {
	Username   string           `koanf:"username" env:"USERNAME"`
	Server     ServerConfig     `koanf:"server" envPrefix:"SERVER_"`
	Session    SessionConfig    `koanf:"session" envPrefix:"SESSION_"`
	Log        logging.Config   `koanf:"log" envPrefix:"LOG_"`
	Gateway    GatewayConfig    `koanf:"gateway" envPrefix:"GATEWAY_"`
	Transcript TranscriptConfig `koanf:"transcript" envPrefix:"TRANSCRIPT_"`
	TUI        bool             `koanf:"tui" env:"TUI"`
}

type ServerConfig struct {
	// Host defaults to this machine's first non-loopback IPv4 address.
	Host       string `koanf:"host" env:"HOST"`
	Port       int    `koanf:"port" env:"PORT"`
	Serializer string `koanf:"serializer" env:"SERIALIZER"`
	OutboxSize int    `koanf:"outbox_size" env:"OUTBOX_SIZE"`
}

func (sc ServerConfig) Address() string {
	return net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
}

type SessionConfig struct {
	AutoJoin       bool `koanf:"auto_join" env:"AUTO_JOIN"`
	OptimisticJoin bool `koanf:"optimistic_join" env:"OPTIMISTIC_JOIN"`
	InboxSize      int  `koanf:"inbox_size" env:"INBOX_SIZE"`
}

type GatewayConfig struct {
	Enabled bool   `koanf:"enabled" env:"ENABLED"`
	Address string `koanf:"address" env:"ADDRESS"`
}

type TranscriptConfig struct {
	// Path of the YAML transcript; empty disables it.
	Path string `koanf:"path" env:"PATH"`
}

// Load reads the YAML file at path, fills defaults and applies ROOMCAST_*
// environment overrides. An empty path or a missing file means defaults only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Username == "" {
		cfg.Username = randomdata.SillyName()
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = LocalIPv4()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "server.port", roomcast.DefaultPort)
	setDefault(k, "server.serializer", "json")
	setDefault(k, "server.outbox_size", 64)

	setDefault(k, "session.auto_join", true)
	setDefault(k, "session.optimistic_join", true)
	setDefault(k, "session.inbox_size", 256)

	setDefault(k, "log.level", "info")
	setDefault(k, "log.format", "json")
	setDefault(k, "log.max_size_mb", 10)
	setDefault(k, "log.max_backups", 3)
	setDefault(k, "log.max_age_days", 7)

	setDefault(k, "gateway.enabled", false)
	setDefault(k, "gateway.address", "127.0.0.1:8089")

	setDefault(k, "tui", true)
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := roomcast.SerializerByName(c.Server.Serializer); err != nil {
		return fmt.Errorf("server.serializer: %w", err)
	}
	if c.Gateway.Enabled && c.Gateway.Address == "" {
		return errors.New("gateway.address is required when the gateway is enabled")
	}
	return nil
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host, or
// 127.0.0.1 when there is none.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}
