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

package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
)

const (
	flagListenAddress = "http-listen-address"
	flagReadTimeout   = "http-read-timeout"
	flagWriteTimeout  = "http-write-timeout"

	defaultListenAddress = ":8000"
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	shutdownTimeout      = 5 * time.Second

	errTimeout pkg.Error = "expected a positive duration"
)

var (
	_ run.Config  = (*Service)(nil)
	_ run.Service = (*Service)(nil)
)

// Service implements a run.Group compatible HTTP Server.
type Service struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	// dependencies
	Log logging.Provider

	*http.Server
	l net.Listener
}

// Name implements run.Unit.
func (s *Service) Name() string {
	return "http"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.ListenAddress == "" {
		s.ListenAddress = defaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
	if s.Server == nil {
		s.Server = &http.Server{IdleTimeout: defaultIdleTimeout}
	}
	flags := run.NewFlagSet("HTTP server options")

	flags.StringVarP(
		&s.ListenAddress,
		flagListenAddress, "a",
		s.ListenAddress,
		`HTTP server listen address, e.g. ":443" or "localhost:80"`)
	flags.DurationVar(&s.ReadTimeout, flagReadTimeout, s.ReadTimeout,
		`Maximum duration for reading an entire request`)
	flags.DurationVar(&s.WriteTimeout, flagWriteTimeout, s.WriteTimeout,
		`Maximum duration before timing out writes of a response; `+
			`raise it when injecting large latencies`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if s.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, flagListenAddress, err))
		}
	} else {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagListenAddress, pkg.ErrRequired))
	}
	if s.ReadTimeout <= 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagReadTimeout, errTimeout))
	}
	if s.WriteTimeout <= 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagWriteTimeout, errTimeout))
	}

	return mErr
}

// Serve implements run.Service.
func (s *Service) Serve() (err error) {
	if s.Server == nil {
		s.Server = &http.Server{}
	}
	s.Server.ReadTimeout = s.ReadTimeout
	s.Server.WriteTimeout = s.WriteTimeout
	if s.Server.IdleTimeout == 0 {
		s.Server.IdleTimeout = defaultIdleTimeout
	}

	s.l, err = net.Listen("tcp", s.ListenAddress)
	if err != nil {
		return err
	}
	logging.Named(s.Log, "http").Info("listening",
		zap.String("address", s.l.Addr().String()))

	if err = s.Server.Serve(s.l); errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GracefulStop implements run.Service.
func (s *Service) GracefulStop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.Server != nil {
		_ = s.Server.Shutdown(ctx)
	}
	if s.l != nil {
		_ = s.l.Close()
	}
}
