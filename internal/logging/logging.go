// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// New returns a console logger for development and a JSON logger for everything else
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", EnvDevelopment, "dev":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case EnvProduction, "prod":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log environment %q", env)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// NewNamed is New with the logger tagged by service name
func NewNamed(env, name string) (*zap.Logger, error) {
	logger, err := New(env)
	if err != nil {
		return nil, err
	}
	return logger.Named(name), nil
}

// Quiet returns a logger that only reports errors, for interactive commands whose
// output would otherwise be mixed with log lines.
func Quiet(env string) (*zap.Logger, error) {
	logger, err := New(env)
	if err != nil {
		return nil, err
	}
	return logger.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel)), nil
}
