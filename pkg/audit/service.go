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

package audit

import (
	"context"
	"fmt"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
)

// flags
const (
	flagDriver = "audit-log-driver"
	flagPath   = "audit-log-path"
)

// supported drivers
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

const errUnknownDriver pkg.Error = "expected one of none, file, sqlite"

// Service implements a run.Group compatible audit log.
type Service struct {
	Driver string
	Path   string

	// dependencies
	Log logging.Provider

	store  Store
	logger *zap.Logger
	closer chan error
}

var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ run.Service   = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return "audit"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.Driver == "" {
		s.Driver = DriverNone
	}

	flags := run.NewFlagSet("Audit log options")

	flags.StringVar(&s.Driver, flagDriver, s.Driver,
		`Audit log storage: none, file or sqlite`)
	flags.StringVar(&s.Path, flagPath, s.Path,
		`Audit log location; file driver defaults to stdout, sqlite requires a path`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	switch s.Driver {
	case DriverNone, DriverFile:
	case DriverSQLite:
		if s.Path == "" {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, flagPath, pkg.ErrRequired))
		}
	default:
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagDriver, errUnknownDriver))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() (err error) {
	s.logger = logging.Named(s.Log, "audit")

	switch s.Driver {
	case DriverFile:
		s.store, err = NewFileStore(s.Path)
	case DriverSQLite:
		s.store, err = NewSQLiteStore(context.Background(), s.Path)
	}
	if err != nil {
		return err
	}

	s.closer = make(chan error)
	s.logger.Info("audit log ready",
		zap.String("driver", s.Driver), zap.String("path", s.Path))
	return nil
}

// Serve implements run.Service.
func (s *Service) Serve() error {
	return <-s.closer
}

// GracefulStop implements run.Service.
func (s *Service) GracefulStop() {
	if s.closer != nil {
		close(s.closer)
	}
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close audit log", zap.Error(err))
	}
}

// Store returns the configured store, nil when auditing is disabled.
func (s *Service) Store() Store {
	if s == nil {
		return nil
	}
	return s.store
}
