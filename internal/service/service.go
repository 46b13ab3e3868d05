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

package service

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/audit"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
	"github.com/basvanbeek/spantree-tester/pkg/observability"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

const (
	flagDuration       = "ep-duration"
	flagErrors         = "ep-errors"
	flagHandleFailures = "ep-handle-failures"
	flagMaxNesting     = "ep-max-nesting"

	defaultMaxNesting = 32

	errProxyService   pkg.Error = "invalid or no proxy service set"
	errPercentage     pkg.Error = "expected percentage value between 0 and 100"
	errDuration       pkg.Error = "expected a zero or positive duration"
	errConcurrency    pkg.Error = "invalid or no concurrency type set"
	errDepth          pkg.Error = "expected a nesting depth between 1 and the configured maximum"
	errInternal       pkg.Error = "internal service failure occurred"
	errHandleFailures pkg.Error = "expected boolean value for handling failures"
	errUnknownTrace   pkg.Error = "trace not tracked by span tree"
	errAuditDisabled  pkg.Error = "audit log disabled"
	errAuditReadOnly  pkg.Error = "audit log does not support queries"
	errLimit          pkg.Error = "expected a positive limit"
	errMissingTracer  pkg.Error = "missing tracer to attach to"
	errMissingTree    pkg.Error = "missing span tree to query"
)

// SpanTree gives access to the span tree the Instrumenter feeds.
type SpanTree interface {
	Tree() *spantree.Tree
	SummaryOptions() spantree.SummaryOptions
}

// AuditLog gives access to the audit store, nil when auditing is disabled.
type AuditLog interface {
	Store() audit.Store
}

// Endpoints implements a run.Config compatible group of Endpoints which will
// register themselves on the provided http service, using the provided
// Instrumenter to instrument themselves.
type Endpoints struct {
	// dependencies
	Instrumenter observability.Instrumenter
	SpanTree     SpanTree
	Audit        AuditLog
	Gatherer     prometheus.Gatherer
	Log          logging.Provider

	ServiceName string
	MaxNesting  int

	handler http.Handler
	tracer  observability.Tracer
	tree    *spantree.Tree
	logger  *zap.Logger

	// service globals protected by mutex mtx
	mtx            sync.RWMutex
	errors         int32
	duration       time.Duration
	handleFailures bool
}

// Name implements run.Unit.
func (ep *Endpoints) Name() string {
	return "endpoints"
}

// FlagSet implements run.Config.
func (ep *Endpoints) FlagSet() *run.FlagSet {
	if ep.MaxNesting == 0 {
		ep.MaxNesting = defaultMaxNesting
	}

	flags := run.NewFlagSet("Endpoint options")

	flags.Int32Var(&ep.errors, flagErrors, ep.errors,
		`Percentage of errors on echo handler`)

	flags.DurationVar(&ep.duration, flagDuration, ep.duration,
		`Duration of a request on echo handler`)

	flags.BoolVar(&ep.handleFailures, flagHandleFailures, ep.handleFailures,
		`Handle failures when proxying and return OK to requestor`)

	flags.IntVar(&ep.MaxNesting, flagMaxNesting, ep.MaxNesting,
		`Maximum depth accepted by the nested span handler`)

	return flags
}

// Validate implements run.Config.
func (ep *Endpoints) Validate() error {
	var mErr error

	if ep.errors < 0 || ep.errors > 100 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagErrors, errPercentage),
		)
	}
	if ep.duration < 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagDuration, errDuration),
		)
	}
	if ep.MaxNesting < 1 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagMaxNesting, errDepth),
		)
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (ep *Endpoints) PreRun() error {
	if ep.Instrumenter == nil || ep.Instrumenter.Tracer() == nil {
		return errMissingTracer
	}
	if ep.SpanTree == nil || ep.SpanTree.Tree() == nil {
		return errMissingTree
	}
	if ep.MaxNesting == 0 {
		ep.MaxNesting = defaultMaxNesting
	}
	ep.tracer = ep.Instrumenter.Tracer()
	ep.tree = ep.SpanTree.Tree()
	ep.logger = logging.Named(ep.Log, "endpoints")

	// instrumented routes generating traffic
	traced := mux.NewRouter()
	traced.Methods("GET").Path("/errors/{percentage}").HandlerFunc(ep.setErrors)
	traced.Methods("GET").Path("/graceful/{handleFailures}").HandlerFunc(ep.setHandleFailures)
	traced.Methods("GET").Path("/latency/{duration}").HandlerFunc(ep.setLatency)
	traced.Methods("GET").Path("/local/{concurrency}/latency/{duration}").HandlerFunc(ep.emulateConcurrency)
	traced.Methods("GET").Path("/nested/{depth}/latency/{duration}").HandlerFunc(ep.emulateNesting)
	traced.Methods("GET").PathPrefix("/proxy/{service}").HandlerFunc(ep.proxy)
	traced.Methods("GET").PathPrefix("/").HandlerFunc(ep.echoHandler)

	// introspection routes stay out of the traces they inspect
	router := mux.NewRouter()
	router.Methods("GET").Path("/trees/{traceID}").HandlerFunc(ep.treeSummary)
	router.Methods("GET").Path("/trees/{traceID}/spans").HandlerFunc(ep.treeSpans)
	router.Methods("GET").Path("/trees/{traceID}/leaves").HandlerFunc(ep.treeLeaves)
	router.Methods("GET").Path("/trees/{traceID}/path").HandlerFunc(ep.treePath)
	router.Methods("GET").Path("/audit").HandlerFunc(ep.auditLog)
	if ep.Gatherer != nil {
		router.Methods("GET").Path("/metrics").Handler(
			promhttp.HandlerFor(ep.Gatherer, promhttp.HandlerOpts{}))
	}
	router.PathPrefix("/").Handler(ep.Instrumenter.Middleware()(traced))

	ep.handler = router

	return nil
}

// Handler returns an HTTP handler that can be attached to an HTTP service.
// The handler holds a router to the endpoints with the sub handlers.
func (ep *Endpoints) Handler() http.Handler {
	return ep.handler
}

var (
	_ run.Config    = (*Endpoints)(nil)
	_ run.PreRunner = (*Endpoints)(nil)
)
