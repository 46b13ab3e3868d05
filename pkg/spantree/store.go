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
	"sync"
	"sync/atomic"

	"github.com/openzipkin/zipkin-go/idgenerator"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tree tracks the span hierarchy of in-flight and recently finished traces.
// Safe for concurrent use by multiple goroutines.
type Tree struct {
	cfg     Config
	clock   clockz.Clock
	logger  *zap.Logger
	metrics *Metrics
	ids     idgenerator.IDGenerator
	onEvict EvictionHook

	// indexes protected by mtx
	mtx     sync.RWMutex
	spans   map[string]*spanRecord
	traces  map[string]*traceRecord
	evicted map[EvictReason]uint64

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// Stats describes the current size of a Tree.
type Stats struct {
	Traces  int                    `json:"traces"`
	Spans   int                    `json:"spans"`
	Evicted map[EvictReason]uint64 `json:"evicted,omitempty"`
}

// New returns a Tree enforcing cfg. The background expiry sweep is not
// running until Start is called.
func New(cfg Config, opts ...Option) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tree{
		cfg:     cfg,
		clock:   clockz.RealClock,
		logger:  zap.NewNop(),
		ids:     idgenerator.NewRandom128(),
		spans:   make(map[string]*spanRecord),
		traces:  make(map[string]*traceRecord),
		evicted: make(map[EvictReason]uint64),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the limits the tree enforces.
func (t *Tree) Config() Config {
	return t.cfg
}

// StartSpan registers a new open span named name. The span becomes a child of
// the top frame of parent, or the root of a new trace if parent holds no
// frame. ErrCapacityExceeded is returned if the span cannot be tracked, in
// which case the caller should proceed without tree tracking for it.
func (t *Tree) StartSpan(name string, parent *ExecutionContext, opts ...StartOption) (Span, error) {
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}

	frame, hasParent := parent.top()

	t.mtx.Lock()

	// read under the lock so activity never moves backwards
	now := t.clock.Now()
	rec := &spanRecord{name: name, startedAt: now}
	if !so.startTime.IsZero() {
		rec.startedAt = so.startTime
	}

	var tr *traceRecord
	if hasParent {
		p, ok := t.spans[frame.SpanID]
		if !ok || p.traceID != frame.TraceID {
			t.mtx.Unlock()
			t.metrics.rejected(rejectParentMissing)
			return Span{}, errors.Wrapf(ErrCapacityExceeded,
				"parent span %s of trace %s is no longer tracked", frame.SpanID, frame.TraceID)
		}
		tr = t.traces[p.traceID]
		rec.traceID = p.traceID
		rec.parentSpanID = p.spanID
	} else {
		rec.traceID = so.traceID
		if rec.traceID == "" || t.traces[rec.traceID] != nil {
			if rec.traceID != "" {
				t.logger.Debug("trace id already tracked, generating a new one",
					zap.String("trace_id", rec.traceID))
			}
			rec.traceID = t.newTraceIDLocked()
		}
	}

	evictions, err := t.makeRoomLocked(rec.traceID, tr == nil)
	if err != nil {
		t.mtx.Unlock()
		t.notify(evictions)
		t.metrics.rejected(rejectCapacity)
		return Span{}, err
	}

	if tr == nil {
		tr = &traceRecord{id: rec.traceID}
		t.traces[tr.id] = tr
	}
	rec.spanID = t.newSpanIDLocked()
	t.spans[rec.spanID] = rec
	tr.spans = append(tr.spans, rec)
	tr.touch(now)
	span := rec.snapshot()
	t.metrics.size(len(t.traces), len(t.spans))

	t.mtx.Unlock()

	t.notify(evictions)
	t.metrics.started()
	return span, nil
}

// EndSpan closes spanID. Ending an unknown or already closed span is a no-op.
func (t *Tree) EndSpan(spanID string) {
	t.mtx.Lock()
	rec, ok := t.spans[spanID]
	if !ok || !rec.open() {
		t.mtx.Unlock()
		if !ok {
			t.fault("end_unknown_span", zap.String("span_id", spanID))
		} else {
			t.fault("end_closed_span", zap.String("span_id", spanID))
		}
		return
	}
	now := t.clock.Now()
	rec.endedAt = now
	t.traces[rec.traceID].touch(now)
	t.mtx.Unlock()
}

// Annotate sets attribute key of spanID to value. Writes to unknown or closed
// spans, and non scalar values, are dropped.
func (t *Tree) Annotate(spanID, key string, value any) {
	if !isScalar(value) {
		t.fault("annotate_non_scalar", zap.String("span_id", spanID), zap.String("key", key))
		return
	}
	t.mtx.Lock()
	rec, ok := t.spans[spanID]
	if !ok || !rec.open() {
		t.mtx.Unlock()
		t.fault("annotate_inactive_span", zap.String("span_id", spanID), zap.String("key", key))
		return
	}
	if rec.attributes == nil {
		rec.attributes = make(map[string]any)
	}
	rec.attributes[key] = value
	t.traces[rec.traceID].touch(t.clock.Now())
	t.mtx.Unlock()
}

// SpansOf returns the spans of traceID in start order, or nil if the trace is
// not tracked.
func (t *Tree) SpansOf(traceID string) []Span {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	tr, ok := t.traces[traceID]
	if !ok {
		return nil
	}
	spans := make([]Span, len(tr.spans))
	for i, rec := range tr.spans {
		spans[i] = rec.snapshot()
	}
	return spans
}

// Span returns a copy of spanID.
func (t *Tree) Span(spanID string) (Span, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	rec, ok := t.spans[spanID]
	if !ok {
		return Span{}, false
	}
	return rec.snapshot(), true
}

// Stats returns the current number of traces and spans and the number of
// traces evicted so far per reason.
func (t *Tree) Stats() Stats {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	s := Stats{
		Traces:  len(t.traces),
		Spans:   len(t.spans),
		Evicted: make(map[EvictReason]uint64, len(t.evicted)),
	}
	for reason, n := range t.evicted {
		s.Evicted[reason] = n
	}
	return s
}

func (t *Tree) newTraceIDLocked() string {
	for {
		id := t.ids.TraceID().String()
		if _, ok := t.traces[id]; !ok {
			return id
		}
	}
}

func (t *Tree) newSpanIDLocked() string {
	for {
		// an empty trace id makes the generator return a random span id
		// instead of deriving it from the trace id.
		id := t.ids.SpanID(model.TraceID{}).String()
		if _, ok := t.spans[id]; !ok {
			return id
		}
	}
}

// fault reports a usage fault. Usage faults never fail the caller.
func (t *Tree) fault(kind string, fields ...zap.Field) {
	t.metrics.fault(kind)
	t.logger.Debug("span tree usage fault", append(fields, zap.String("fault", kind))...)
}
