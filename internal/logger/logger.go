package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates and configures a new zerolog logger
func New(logLevel string) zerolog.Logger {
	return NewWithWriter(logLevel, os.Stdout)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(logLevel string, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Human-readable output in development
	if os.Getenv("API_ENV") == "development" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		log.Logger = log.Output(w)
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "battled").
		Logger()
}

// WithBattle adds battle ID to logger context
func WithBattle(logger zerolog.Logger, battleID string) zerolog.Logger {
	return logger.With().Str("battle_id", battleID).Logger()
}

// WithToken adds token ticker and mint to logger context
func WithToken(logger zerolog.Logger, ticker, mint string) zerolog.Logger {
	return logger.With().Str("ticker", ticker).Str("mint", mint).Logger()
}

// WithPool adds pool address to logger context
func WithPool(logger zerolog.Logger, pool string) zerolog.Logger {
	return logger.With().Str("pool", pool).Logger()
}

// WithRPCEndpoint adds RPC endpoint to logger context
func WithRPCEndpoint(logger zerolog.Logger, endpoint string) zerolog.Logger {
	return logger.With().Str("rpc_endpoint", endpoint).Logger()
}
