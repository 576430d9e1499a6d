package observability

import (
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the default adrotator logger.
func InitLogger() (*zap.Logger, error) {
	return InitLoggerWithLevel(LevelFromEnv(), "adrotator")
}

// InitLoggerWithService builds a logger for serviceName at the level chosen
// by ENV and LOG_LEVEL.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(LevelFromEnv(), serviceName)
}

// InitLoggerWithLevel builds a JSON logger named after serviceName and
// installs it as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	// Field names match the Promtail pipeline.
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func deployEnv() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))
}

func isDevelopment(env string) bool {
	return env == "development" || env == "dev"
}

// LevelFromEnv returns LOG_LEVEL when it parses, otherwise debug in
// development and info everywhere else.
func LevelFromEnv() zapcore.Level {
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(raw); err == nil {
			return lvl
		}
	}
	if isDevelopment(deployEnv()) {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

// GetSamplingRate is the share of per-request info logs (ad served, click)
// that get written. LOG_SAMPLE_RATE overrides the per-environment default.
func GetSamplingRate() float64 {
	if raw := os.Getenv("LOG_SAMPLE_RATE"); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil && rate >= 0 && rate <= 1 {
			return rate
		}
	}
	switch deployEnv() {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// ShouldSample reports whether one log line should be written at rate.
func ShouldSample(rate float64) bool {
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return rand.Float64() < rate
}
