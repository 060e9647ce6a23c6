package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level, encoding and sink. An empty File logs to
// stderr; otherwise the file is rotated by size.
type Config struct {
	Level      string `koanf:"level" env:"LEVEL"`
	Format     string `koanf:"format" env:"FORMAT"`
	File       string `koanf:"file" env:"FILE"`
	MaxSizeMB  int    `koanf:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `koanf:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `koanf:"max_age_days" env:"MAX_AGE_DAYS"`
}

func (c Config) encoder() (zapcore.Encoder, error) {
	var ec = zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(c.Format) {
	case "", "json":
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}

func (c Config) sink() zapcore.WriteSyncer {
	if c.File == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
	})
}

// New builds the process logger described by c.
func New(c Config) (*zap.Logger, error) {
	var level = zapcore.InfoLevel
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	var core = zapcore.NewCore(enc, c.sink(), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}
