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
	"fmt"
	"time"

	"github.com/openzipkin/zipkin-go/idgenerator"
	"github.com/tetratelabs/multierror"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
)

// flags
const (
	FlagTTL           = "spantree-ttl"
	FlagMaxSpans      = "spantree-max-spans"
	FlagMaxTraces     = "spantree-max-traces"
	FlagSweepInterval = "spantree-sweep-interval"
)

const (
	// default configuration values
	DefaultTTL           = 30 * time.Second
	DefaultMaxSpans      = 10000
	DefaultMaxTraces     = 1000
	DefaultSweepInterval = 5 * time.Second
)

// Config holds the retention limits of a Tree.
type Config struct {
	// TTL is the idle time after which a trace is expired by the sweeper.
	TTL time.Duration
	// MaxSpans caps the number of spans held across all traces.
	MaxSpans int
	// MaxTraces caps the number of traces held.
	MaxTraces int
	// SweepInterval is the period of the background expiry sweep. It must
	// not exceed TTL/2.
	SweepInterval time.Duration
}

// DefaultConfig returns the default retention limits.
func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		MaxSpans:      DefaultMaxSpans,
		MaxTraces:     DefaultMaxTraces,
		SweepInterval: DefaultSweepInterval,
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var mErr error

	if c.TTL <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, FlagTTL, errMustBePositive))
	}
	if c.MaxSpans <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, FlagMaxSpans, errMustBePositive))
	}
	if c.MaxTraces <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, FlagMaxTraces, errMustBePositive))
	}
	switch {
	case c.SweepInterval <= 0:
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, FlagSweepInterval, errMustBePositive))
	case c.TTL > 0 && c.SweepInterval > c.TTL/2:
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, FlagSweepInterval, errSweepTooSlow))
	}

	return mErr
}

// Option configures optional collaborators of a Tree.
type Option func(*Tree)

// WithClock sets the clock used for span timestamps and trace activity.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tree) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger used to report usage faults and evictions.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation of the tree.
func WithMetrics(m *Metrics) Option {
	return func(t *Tree) {
		t.metrics = m
	}
}

// WithIDGenerator replaces the random 128 bit trace / 64 bit span ID generator.
func WithIDGenerator(gen idgenerator.IDGenerator) Option {
	return func(t *Tree) {
		if gen != nil {
			t.ids = gen
		}
	}
}

// WithEvictionHook registers fn to be called after traces are evicted.
// It is called without any tree lock held.
func WithEvictionHook(fn EvictionHook) Option {
	return func(t *Tree) {
		t.onEvict = fn
	}
}

// StartOption customizes a single StartSpan call.
type StartOption func(*startOptions)

type startOptions struct {
	traceID   string
	startTime time.Time
}

// WithTraceID makes a root span adopt traceID, typically the trace identifier
// of the host tracer. It is ignored for spans that have a parent. When the
// trace identifier is already tracked a fresh one is generated instead.
func WithTraceID(traceID string) StartOption {
	return func(o *startOptions) {
		o.traceID = traceID
	}
}

// WithStartTime overrides the start timestamp of the span.
func WithStartTime(t time.Time) StartOption {
	return func(o *startOptions) {
		o.startTime = t
	}
}
