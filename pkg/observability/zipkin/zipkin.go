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

// Package zipkin provides the Zipkin tracing provider of this binary and
// points span tree trace links at the Zipkin UI.
package zipkin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/openzipkin/zipkin-go"
	zmw "github.com/openzipkin/zipkin-go/middleware/http"
	"github.com/openzipkin/zipkin-go/propagation/baggage"
	"github.com/openzipkin/zipkin-go/reporter"
	zrpr "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/version"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
	"github.com/basvanbeek/spantree-tester/pkg/observability"
)

// flags
const (
	ReporterEndpoint = "zipkin-reporter-endpoint"
	LocalServicename = "zipkin-local-servicename"
	LocalHostport    = "zipkin-local-hostport"
	SinglehostSpans  = "zipkin-singlehost-spans"
	SampleRate       = "zipkin-sample-rate"
	UIURL            = "zipkin-ui-url"
)

const (
	defaultReporterAddr = "http://zipkin:9411/api/v2/spans"
	defaultSampleRate   = 1.0

	// the Zipkin server serves its UI next to the collector API
	uiPath = "/zipkin"

	errNotHTTP pkg.Error = "expected an absolute http(s) URL"
)

// Service implements run.GroupService for a Zipkin tracer. A Reporter set
// before PreRun is used as is and left open on GracefulStop.
type Service struct {
	Servicename     string
	LocalHostport   string
	Address         string
	UIURL           string
	SampleRate      float64
	SingleHostSpans bool
	Reporter        reporter.Reporter

	// dependencies
	Log logging.Provider

	tracer       *zipkin.Tracer
	ownsReporter bool
	closer       chan error
}

// static compile time interfaces validation
var (
	_ run.Config                 = (*Service)(nil)
	_ run.PreRunner              = (*Service)(nil)
	_ run.Service                = (*Service)(nil)
	_ observability.Instrumenter = (*Service)(nil)
	_ observability.TraceViewer  = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return observability.ZipkinInstrumenter
}

// GroupName implements run.Namer so the local service name defaults to the
// name of the run.Group.
func (s *Service) GroupName(name string) {
	if s.Servicename == "" {
		s.Servicename = name
	}
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.Address == "" {
		s.Address = defaultReporterAddr
	}
	if s.Servicename == "" {
		s.Servicename = path.Base(os.Args[0])
	}
	switch {
	case s.SampleRate < 0:
		s.SampleRate = 0
	case s.SampleRate == 0:
		s.SampleRate = defaultSampleRate
	}

	flags := run.NewFlagSet("Zipkin Tracer Config")

	flags.StringVar(&s.Address, ReporterEndpoint, s.Address,
		`Full address, including URI, of the Zipkin HTTP collector`)
	flags.StringVar(&s.Servicename, LocalServicename, s.Servicename,
		`Local ServiceName to report`)
	flags.StringVar(&s.LocalHostport, LocalHostport, s.LocalHostport,
		`Local ip:port to report`)
	flags.BoolVar(&s.SingleHostSpans, SinglehostSpans, s.SingleHostSpans,
		`Do not use Zipkin RPC shared spans`)
	flags.Float64Var(&s.SampleRate, SampleRate, s.SampleRate,
		`Zipkin sample rate, between never (0.0) and always (1.0), smallest increment: 0.0001`)
	flags.StringVar(&s.UIURL, UIURL, s.UIURL,
		`Base URL of the Zipkin UI used for span tree trace links; derived from the collector address if empty`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if s.Reporter == nil {
		if _, err := url.Parse(s.Address); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, ReporterEndpoint, err))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.LocalHostport != "" {
		if _, _, err := net.SplitHostPort(s.LocalHostport); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, LocalHostport, err))
		}
	}
	if _, err := zipkin.NewBoundarySampler(s.SampleRate, 0); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, SampleRate, err))
	}
	if s.UIURL != "" && uiBase(s.UIURL) == "" {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, UIURL, errNotHTTP))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() error {
	logger := logging.Named(s.Log, "zipkin")

	ep, err := zipkin.NewEndpoint(s.Servicename, s.LocalHostport)
	if err != nil {
		return err
	}
	sampler, err := zipkin.NewBoundarySampler(s.SampleRate, time.Now().UnixNano())
	if err != nil {
		return err
	}

	rep := s.Reporter
	if rep == nil {
		s.ownsReporter = true
		rep = zrpr.NewReporter(s.Address)
	}

	s.tracer, err = zipkin.NewTracer(rep,
		zipkin.WithLocalEndpoint(ep),
		zipkin.WithSharedSpans(!s.SingleHostSpans),
		zipkin.WithSampler(sampler),
		zipkin.WithTags(map[string]string{observability.VersionTag: version.Parse()}),
	)
	if err != nil {
		if s.ownsReporter {
			_ = rep.Close()
		}
		return err
	}

	s.Reporter = rep
	s.closer = make(chan error)

	logger.Info("tracer ready",
		zap.Bool("own_reporter", s.ownsReporter),
		zap.String("address", s.Address),
		zap.Float64("sample_rate", s.SampleRate),
		zap.String("ui", s.TraceURLBase()))
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
	if s.ownsReporter {
		_ = s.Reporter.Close()
	}
}

// TraceURLBase implements observability.TraceViewer. Without an explicit UI
// URL the UI is expected on the collector's host, e.g. a collector at
// http://zipkin:9411/api/v2/spans yields http://zipkin:9411/zipkin.
func (s *Service) TraceURLBase() string {
	if s.UIURL != "" {
		return uiBase(s.UIURL)
	}
	if s.Reporter != nil && !s.ownsReporter {
		// spans go somewhere we know nothing about
		return ""
	}
	if uiBase(s.Address) == "" {
		return ""
	}
	u, _ := url.Parse(s.Address)
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: uiPath}).String()
}

// uiBase normalizes raw into an absolute http(s) URL without trailing slash,
// or returns an empty string.
func uiBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimSuffix(u.String(), "/")
}

// Tracer implements observability.Tracerer.
func (s *Service) Tracer() observability.Tracer {
	return &tracer{delegate: s.tracer}
}

// SpanFromContext implements observability.Contexter.
func (s *Service) SpanFromContext(ctx context.Context) observability.Span {
	return &span{delegate: zipkin.SpanOrNoopFromContext(ctx), ctx: ctx}
}

// Middleware implements observability.Middlewareer. The request id baggage
// field is extracted and propagated.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return zmw.NewServerMiddleware(s.tracer,
		zmw.EnableBaggage(baggage.New(observability.BaggageRequestID)))
}

// Transport implements observability.Transporter.
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	return zmw.NewTransport(s.tracer, zmw.RoundTripper(transport))
}

type tracer struct {
	delegate *zipkin.Tracer
}

// StartSpanFromContext implements observability.Tracer.
func (t *tracer) StartSpanFromContext(ctx context.Context, name string) observability.Span {
	sp, ctx := t.delegate.StartSpanFromContext(ctx, name)
	return &span{delegate: sp, ctx: ctx}
}

type span struct {
	delegate zipkin.Span
	ctx      context.Context
}

func (s *span) Context() context.Context { return s.ctx }
func (s *span) SetName(name string)      { s.delegate.SetName(name) }
func (s *span) Tag(key, value string)    { s.delegate.Tag(key, value) }
func (s *span) Finish()                  { s.delegate.Finish() }

// TraceID implements observability.Span. Spans outside of any trace, like
// the no-op span, report an empty trace ID so the span tree generates its own.
func (s *span) TraceID() string {
	traceID := s.delegate.Context().TraceID
	if traceID.Empty() {
		return ""
	}
	return traceID.String()
}
