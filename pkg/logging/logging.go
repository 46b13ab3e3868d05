// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides a run.Group compatible zap logger for this binary.
package logging

import (
	"fmt"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basvanbeek/spantree-tester/pkg"
)

// flags
const (
	flagLevel       = "log-level"
	flagDevelopment = "log-development"
	flagOutput      = "log-output"
)

const (
	defaultLevel  = "info"
	defaultOutput = "stderr"
)

// Provider hands out the process logger once it has been built.
type Provider interface {
	Logger() *zap.Logger
}

// Service implements run.Config and run.PreRunner. Until PreRun has completed
// Logger returns a no-op logger.
type Service struct {
	Level       string
	Development bool
	Output      string

	logger *zap.Logger
}

var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ Provider      = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return "logging"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.Level == "" {
		s.Level = defaultLevel
	}
	if s.Output == "" {
		s.Output = defaultOutput
	}

	flags := run.NewFlagSet("Logging options")

	flags.StringVar(&s.Level, flagLevel, s.Level,
		`Minimum log level, one of debug, info, warn, error`)
	flags.BoolVar(&s.Development, flagDevelopment, s.Development,
		`Use human readable console output instead of JSON`)
	flags.StringVar(&s.Output, flagOutput, s.Output,
		`Log destination: stdout, stderr or a file path`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if _, err := parseLevel(s.Level); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagLevel, err))
	}
	if s.Output == "" {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagOutput, pkg.ErrRequired))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() error {
	level, err := parseLevel(s.Level)
	if err != nil {
		return err
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       s.Development,
		Encoding:          encodingFormat(s.Development),
		EncoderConfig:     encoderConfig(s.Development),
		OutputPaths:       []string{s.Output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !s.Development,
	}

	s.logger, err = cfg.Build()
	return err
}

// Logger implements Provider.
func (s *Service) Logger() *zap.Logger {
	if s == nil || s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Named returns a child logger of p, tolerating a nil provider.
func Named(p Provider, name string) *zap.Logger {
	if p == nil {
		return zap.NewNop()
	}
	return p.Logger().Named(name)
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

func encodingFormat(development bool) string {
	if development {
		return "console"
	}
	return "json"
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}

	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
