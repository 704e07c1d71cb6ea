package zaplogger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mapstructure is for Viper to unmarshal
type Config struct {
	Development       bool     `mapstructure:"development"`
	Level             string   `mapstructure:"level"`
	Encoding          string   `mapstructure:"encoding"`
	DisableCaller     bool     `mapstructure:"disable_caller"`
	DisableStacktrace bool     `mapstructure:"disable_stacktrace"`
	DisableColor      bool     `mapstructure:"disable_color"`
	OutputPaths       []string `mapstructure:"output_paths"`
	ErrorOutputPaths  []string `mapstructure:"error_output_paths"`
}

// New returns initialised logger
func New(logCfg *Config) (*zap.Logger, error) {
	zapCfg := zap.Config{Encoding: logCfg.Encoding,
		Development:       logCfg.Development,
		DisableCaller:     logCfg.DisableCaller,
		DisableStacktrace: logCfg.DisableStacktrace,
		ErrorOutputPaths:  logCfg.ErrorOutputPaths,
		OutputPaths:       logCfg.OutputPaths,
	}
	var zapLvl zapcore.Level
	if err := zapLvl.UnmarshalText([]byte(logCfg.Level)); err != nil {
		return nil, fmt.Errorf("incorrect logging.level value %q: %w", logCfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapLvl)
	zapCfg.EncoderConfig = zapcore.EncoderConfig{}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if logCfg.DisableColor || logCfg.Encoding == "json" {
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.MessageKey = "message"
	zapCfg.EncoderConfig.LevelKey = "severity"
	zapCfg.EncoderConfig.CallerKey = "caller"
	zapCfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failure initialising logger: %w", err)
	}
	return logger, nil
}
