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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
)

const (
	ObservabilityInstrumenter = "observability-instrumenter"
	ZipkinInstrumenter        = "zipkin"
	SkywalkingInstrumenter    = "skywalking"

	BaggageRequestID = "X-Request-Id"
	VersionTag       = "version"

	errNoInstrumenter pkg.Error = "no instrumenter selected"
)

// InstrumenterService is an interface a concrete service tracing provider needs to implement.
type InstrumenterService interface {
	Instrumenter
	run.Config
	run.PreRunner
	run.Service
}

// Service implements run.GroupService by delegating to the selected provider
// out of Instrumenters.
type Service struct {
	ObservabilityInstrumenter string
	Instrumenters             []InstrumenterService

	Log logging.Provider

	delegate InstrumenterService
}

// static compile time run interfaces validation
var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ run.Service   = (*Service)(nil)
	_ Instrumenter  = (*Service)(nil)
	_ TraceViewer   = (*Service)(nil)
)

func (s *Service) available() []string {
	names := make([]string, 0, len(s.Instrumenters))
	for _, instrumenter := range s.Instrumenters {
		names = append(names, instrumenter.Name())
	}
	return names
}

func (s *Service) lookup(name string) InstrumenterService {
	for _, instrumenter := range s.Instrumenters {
		if instrumenter.Name() == name {
			return instrumenter
		}
	}
	return nil
}

// Name implements run.Unit.
func (s *Service) Name() string {
	if s.delegate == nil {
		return ObservabilityInstrumenter
	}
	return fmt.Sprintf("%s[%s]", ObservabilityInstrumenter, s.delegate.Name())
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	if s.ObservabilityInstrumenter == "" && len(s.Instrumenters) > 0 {
		s.ObservabilityInstrumenter = s.Instrumenters[0].Name()
	}

	flags := run.NewFlagSet("Observability instrumenter config")

	flags.StringVar(
		&s.ObservabilityInstrumenter,
		ObservabilityInstrumenter,
		s.ObservabilityInstrumenter,
		fmt.Sprintf(`Name of the instrumenter to use, one of %v`, s.available()))

	for _, instrumenter := range s.Instrumenters {
		flags.AddFlagSet(instrumenter.FlagSet().FlagSet)
	}
	return flags
}

// Validate implements run.Config. Only the selected instrumenter is
// validated, the others are never started.
func (s *Service) Validate() error {
	selected := s.lookup(s.ObservabilityInstrumenter)
	if selected == nil {
		return multierror.Append(nil, fmt.Errorf(pkg.FlagErr, ObservabilityInstrumenter,
			fmt.Errorf("instrumenter must be one of [%s]", strings.Join(s.available(), ", "))))
	}
	return selected.Validate()
}

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	s.delegate = s.lookup(s.ObservabilityInstrumenter)
	if s.delegate == nil {
		return errNoInstrumenter
	}
	logging.Named(s.Log, "observability").Info("using instrumenter",
		zap.String("instrumenter", s.delegate.Name()))
	return s.delegate.PreRun()
}

// Serve implements run.GroupService
func (s *Service) Serve() error {
	return s.delegate.Serve()
}

// GracefulStop implements run.GroupService
func (s *Service) GracefulStop() {
	if s.delegate != nil {
		s.delegate.GracefulStop()
	}
}

// Tracer implements observability.Tracerer
func (s *Service) Tracer() Tracer {
	return s.delegate.Tracer()
}

// SpanFromContext implements observability.Contexter
func (s *Service) SpanFromContext(ctx context.Context) Span {
	return s.delegate.SpanFromContext(ctx)
}

// Middleware implements observability.Middlewareer
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return s.delegate.Middleware()
}

// Transport implements observability.Transporter
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	return s.delegate.Transport(transport)
}

// TraceURLBase implements observability.TraceViewer for providers that have
// a trace UI.
func (s *Service) TraceURLBase() string {
	if viewer, ok := s.delegate.(TraceViewer); ok {
		return viewer.TraceURLBase()
	}
	return ""
}
