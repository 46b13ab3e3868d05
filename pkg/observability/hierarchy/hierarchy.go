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

// Package hierarchy decorates an observability.Instrumenter with span tree
// tracking. Every span started through the decorated tracer is mirrored into
// a spantree.Tree and, once a request completes, the shape of its tree is
// tagged onto the host's root span and written to the audit log.
package hierarchy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/audit"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
	"github.com/basvanbeek/spantree-tester/pkg/observability"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

// Tags set on the host root span.
const (
	TagDepth       = "span_tree.depth"
	TagDeepestPath = "span_tree.deepest_path"
	TagSpanCount   = "span_tree.span_count"
	TagTraceURL    = "span_tree.trace_url"
)

// FlagTraceURLBase holds the base URL of the trace viewer.
const FlagTraceURLBase = "spantree-trace-url-base"

const (
	errMissingDelegate pkg.Error = "missing instrumenter to decorate"
	errMissingTree     pkg.Error = "missing span tree"
	errInvalidURL      pkg.Error = "expected an absolute http(s) URL"
)

// TreeProvider hands out the span tree once it has been created.
type TreeProvider interface {
	Tree() *spantree.Tree
}

// AuditProvider hands out the audit store, nil if auditing is disabled.
type AuditProvider interface {
	Store() audit.Store
}

// Service implements run.Config and run.PreRunner and decorates Delegate.
type Service struct {
	ServiceName  string
	TraceURLBase string

	// dependencies
	Delegate observability.Instrumenter
	Trees    TreeProvider
	Audit    AuditProvider
	Log      logging.Provider

	tree   *spantree.Tree
	logger *zap.Logger
}

// static compile time interfaces validation
var (
	_ run.Config                 = (*Service)(nil)
	_ run.PreRunner              = (*Service)(nil)
	_ observability.Instrumenter = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return "span-hierarchy"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Span hierarchy options")

	flags.StringVar(&s.TraceURLBase, FlagTraceURLBase, s.TraceURLBase,
		`Base URL of the trace viewer, e.g. "http://zipkin:9411/zipkin"; `+
			`defaults to the tracing provider's UI, trace links are left out if unknown`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if s.TraceURLBase != "" {
		u, err := url.Parse(s.TraceURLBase)
		if err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, FlagTraceURLBase, err))
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, FlagTraceURLBase, errInvalidURL))
		}
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() error {
	if s.Delegate == nil {
		return errMissingDelegate
	}
	if s.Trees == nil || s.Trees.Tree() == nil {
		return errMissingTree
	}
	s.tree = s.Trees.Tree()
	s.logger = logging.Named(s.Log, "hierarchy")
	if s.TraceURLBase == "" {
		if viewer, ok := s.Delegate.(observability.TraceViewer); ok {
			s.TraceURLBase = strings.TrimSuffix(viewer.TraceURLBase(), "/")
		}
	}
	s.logger.Debug("trace links", zap.String("base", s.TraceURLBase))
	return nil
}

// Tree returns the decorating span tree.
func (s *Service) Tree() *spantree.Tree {
	return s.tree
}

// SummaryOptions returns the options used for trace summaries.
func (s *Service) SummaryOptions() spantree.SummaryOptions {
	return spantree.SummaryOptions{TraceURLBase: s.TraceURLBase}
}

// Tracer implements observability.Tracerer.
func (s *Service) Tracer() observability.Tracer {
	return &tracer{s: s, delegate: s.Delegate.Tracer()}
}

// SpanFromContext implements observability.Contexter. Tags set on the
// returned span are mirrored onto the current tree span.
func (s *Service) SpanFromContext(ctx context.Context) observability.Span {
	host := s.Delegate.SpanFromContext(ctx)
	spanID := s.tree.CurrentSpanID(spantree.FromContext(ctx))
	if spanID == "" {
		return host
	}
	return &currentSpan{Span: host, tree: s.tree, spanID: spanID}
}

// Transport implements observability.Transporter.
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	return s.Delegate.Transport(transport)
}

// Middleware implements observability.Middlewareer. The span tree root is
// started inside the host's server span so it can adopt the host trace id.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	hostMiddleware := s.Delegate.Middleware()
	return func(next http.Handler) http.Handler {
		return hostMiddleware(s.rootHandler(next))
	}
}

func (s *Service) rootHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := s.Delegate.SpanFromContext(r.Context())
		name := r.Method + " " + r.URL.Path

		root, err := s.tree.StartSpan(name, nil, spantree.WithTraceID(host.TraceID()))
		if err != nil {
			s.logger.Debug("request not tracked by span tree",
				zap.String("span", name), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		ec := s.tree.Enter(nil, root.SpanID, root.TraceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(spantree.NewContext(r.Context(), ec)))

		s.tree.Annotate(root.SpanID, "http.status_code", rec.status)
		s.tree.EndSpan(root.SpanID)
		s.finalize(r.Context(), host, root, rec.status, time.Since(start))
		_ = s.tree.Exit(ec, root.SpanID)
	})
}

// finalize tags the host root span with the shape of the finished trace and
// appends it to the audit log.
func (s *Service) finalize(ctx context.Context, host observability.Span, root spantree.Span, status int, elapsed time.Duration) {
	sum := s.tree.TraceSummary(root.TraceID, s.SummaryOptions())
	hostTraceID := host.TraceID()
	if hostTraceID != "" && hostTraceID != sum.TraceID {
		// the tree had to pick its own id, link the host trace instead
		sum.TraceURL = spantree.TraceURL(s.TraceURLBase, hostTraceID)
	}

	host.Tag(TagDepth, strconv.Itoa(sum.Depth))
	host.Tag(TagDeepestPath, sum.FormattedPath)
	host.Tag(TagSpanCount, strconv.Itoa(sum.SpanCount))
	if sum.TraceURL != "" {
		host.Tag(TagTraceURL, sum.TraceURL)
	}

	s.logger.Debug("trace finished",
		zap.String("trace_id", sum.TraceID),
		zap.String("host_trace_id", hostTraceID),
		zap.Int("depth", sum.Depth),
		zap.Int("span_count", sum.SpanCount),
		zap.String("deepest_path", sum.FormattedPath))

	if s.Audit == nil {
		return
	}
	store := s.Audit.Store()
	if store == nil {
		return
	}

	entry := audit.NewEntry()
	entry.Service = s.ServiceName
	entry.TraceID = sum.TraceID
	if hostTraceID != sum.TraceID {
		entry.HostTraceID = hostTraceID
	}
	entry.RootSpan = root.Name
	entry.Depth = sum.Depth
	entry.SpanCount = sum.SpanCount
	entry.DeepestPath = sum.FormattedPath
	entry.TraceURL = sum.TraceURL
	entry.StatusCode = status
	entry.DurationMs = elapsed.Milliseconds()

	if err := store.Write(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry",
			zap.String("trace_id", sum.TraceID), zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
