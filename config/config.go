// This package defines a common config struct which can be used by any subsystem within go-discussions.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Debug                  bool
	RootDir                string
	LoggingPrefix          string
	DeferredRequestMaxAge  time.Duration
	CleanupInterval        time.Duration
	NatsURL                string
	NatsSubjectPrefix      string
	NatsReconnectWait      time.Duration
	UpdatesChannelCapacity int
	writer                 io.Writer
}

func (c Config) Logger(source string) *zap.SugaredLogger {
	var p string
	if source == "" {
		p = c.LoggingPrefix
	} else {
		p = fmt.Sprintf("%s:%s", c.LoggingPrefix, source)
	}

	level := zapcore.InfoLevel
	if c.Debug {
		level = zapcore.DebugLevel
	}
	opts := []zap.Option{
		zap.Fields(zap.String("source", p)),
	}

	de := zap.NewDevelopmentEncoderConfig()
	fileEncoder := zapcore.NewJSONEncoder(de)
	consoleEncoder := zapcore.NewConsoleEncoder(de)
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(c.writer), level),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	)
	logger := zap.New(core, opts...)
	return logger.Sugar()
}

type Option func(*Config)

func WithDebug(d bool) Option {
	return func(c *Config) {
		c.Debug = d
	}
}

func WithRootDir(d string) Option {
	return func(c *Config) {
		c.RootDir = d
	}
}

func WithLoggingPrefix(p string) Option {
	return func(c *Config) {
		c.LoggingPrefix = p
	}
}

// Deferred requests whose server timestamp is older than this are discarded by the cleaner.
func WithDeferredRequestMaxAge(d time.Duration) Option {
	return func(c *Config) {
		c.DeferredRequestMaxAge = d
	}
}

// How often the manager purges stale deferred requests and empty locked discussions. Zero disables the loop.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = d
	}
}

func WithNatsURL(u string) Option {
	return func(c *Config) {
		c.NatsURL = u
	}
}

func WithNatsSubjectPrefix(p string) Option {
	return func(c *Config) {
		c.NatsSubjectPrefix = p
	}
}

func WithUpdatesChannelCapacity(n int) Option {
	return func(c *Config) {
		c.UpdatesChannelCapacity = n
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:                  os.Getenv("DEBUG") == "1",
		LoggingPrefix:          "",
		RootDir:                ".",
		DeferredRequestMaxAge:  15 * 24 * time.Hour,
		CleanupInterval:        time.Hour,
		NatsSubjectPrefix:      "discussions",
		NatsReconnectWait:      500 * time.Millisecond,
		UpdatesChannelCapacity: 100,

		writer: nil,
	}
	for _, o := range opts {
		o(c)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	c.writer = writer
	return c
}
