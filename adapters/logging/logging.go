package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zerolog adapts a zerolog.Logger to auth.Logger
type Zerolog struct {
	log zerolog.Logger
}

var _ auth.Logger = Zerolog{}

// NewZerolog writes JSON lines to w, or a console format when pretty is set
func NewZerolog(w io.Writer, level string, pretty bool) Zerolog {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return Zerolog{
		log: zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "auth").Logger(),
	}
}

// FromZerolog wraps an existing logger
func FromZerolog(l zerolog.Logger) Zerolog {
	return Zerolog{log: l}
}

func (z Zerolog) Debug(format string, args ...any) {
	z.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z Zerolog) Info(format string, args ...any) {
	z.log.Info().Msg(fmt.Sprintf(format, args...))
}

func (z Zerolog) Error(format string, args ...any) {
	z.log.Error().Msg(fmt.Sprintf(format, args...))
}

// Zap adapts a zap.SugaredLogger to auth.Logger
type Zap struct {
	log *zap.SugaredLogger
}

var _ auth.Logger = Zap{}

// NewZap builds a production zap logger at level
func NewZap(level string) (Zap, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return Zap{}, err
	}
	return Zap{log: l.Sugar().Named("auth")}, nil
}

// FromZap wraps an existing sugared logger
func FromZap(l *zap.SugaredLogger) Zap {
	return Zap{log: l}
}

func (z Zap) Debug(format string, args ...any) { z.log.Debugf(format, args...) }

func (z Zap) Info(format string, args ...any) { z.log.Infof(format, args...) }

func (z Zap) Error(format string, args ...any) { z.log.Errorf(format, args...) }

// Sync flushes buffered entries
func (z Zap) Sync() error { return z.log.Sync() }

// New picks the backend by name: "zap" or anything else for zerolog
func New(backend, level string, pretty bool) (auth.Logger, error) {
	switch backend {
	case "zap":
		return NewZap(level)
	default:
		return NewZerolog(os.Stderr, level, pretty), nil
	}
}
