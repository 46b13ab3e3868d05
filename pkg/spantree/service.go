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

package spantree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/run"
	"github.com/zoobzio/clockz"

	"github.com/basvanbeek/spantree-tester/pkg/logging"
)

// Service implements run.GroupService for a Tree. The tree is available from
// PreRun on; its expiry sweep runs while the service is serving.
type Service struct {
	Config

	// dependencies
	Log        logging.Provider
	Registerer prometheus.Registerer
	Clock      clockz.Clock

	tree   *Tree
	closer chan error
}

// static compile time run interfaces validation
var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ run.Service   = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return "spantree"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	// set defaults if needed
	def := DefaultConfig()
	if s.TTL == 0 {
		s.TTL = def.TTL
	}
	if s.MaxSpans == 0 {
		s.MaxSpans = def.MaxSpans
	}
	if s.MaxTraces == 0 {
		s.MaxTraces = def.MaxTraces
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = def.SweepInterval
	}

	flags := run.NewFlagSet("Span tree options")

	flags.DurationVar(&s.TTL, FlagTTL, s.TTL,
		`Idle time after which a trace is dropped from the span tree`)
	flags.IntVar(&s.MaxSpans, FlagMaxSpans, s.MaxSpans,
		`Maximum number of spans held by the span tree`)
	flags.IntVar(&s.MaxTraces, FlagMaxTraces, s.MaxTraces,
		`Maximum number of traces held by the span tree`)
	flags.DurationVar(&s.SweepInterval, FlagSweepInterval, s.SweepInterval,
		`Interval of the expiry sweep, at most half of the TTL`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	return s.Config.Validate()
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() (err error) {
	opts := []Option{
		WithLogger(logging.Named(s.Log, "spantree")),
		WithClock(s.Clock),
	}
	if s.Registerer != nil {
		opts = append(opts, WithMetrics(NewMetrics(s.Registerer)))
	}

	if s.tree, err = New(s.Config, opts...); err != nil {
		return err
	}
	s.closer = make(chan error)
	return nil
}

// Serve implements run.Service.
func (s *Service) Serve() error {
	s.tree.Start()
	return <-s.closer
}

// GracefulStop implements run.Service.
func (s *Service) GracefulStop() {
	if s.closer != nil {
		close(s.closer)
	}
	if s.tree != nil {
		s.tree.Close()
	}
}

// Tree returns the span tree, nil before PreRun.
func (s *Service) Tree() *Tree {
	return s.tree
}
