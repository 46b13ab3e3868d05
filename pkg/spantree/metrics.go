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
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	rejectCapacity      = "capacity"
	rejectParentMissing = "parent_missing"
)

// Metrics holds the Prometheus collectors of a Tree. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	spansStarted prometheus.Counter
	rejections   *prometheus.CounterVec
	faults       *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	evictedSpans *prometheus.CounterVec
	traces       prometheus.Gauge
	spans        prometheus.Gauge
}

// NewMetrics creates the tree collectors and registers them with reg. A nil
// reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		spansStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "spantree_spans_started_total",
			Help: "Total number of spans tracked by the span tree",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spantree_spans_rejected_total",
			Help: "Total number of spans the span tree could not track",
		}, []string{"reason"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spantree_usage_faults_total",
			Help: "Total number of ignored misuses of the span tree",
		}, []string{"fault"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spantree_traces_evicted_total",
			Help: "Total number of traces evicted from the span tree",
		}, []string{"reason"}),
		evictedSpans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spantree_spans_evicted_total",
			Help: "Total number of spans removed together with their trace",
		}, []string{"reason"}),
		traces: f.NewGauge(prometheus.GaugeOpts{
			Name: "spantree_traces",
			Help: "Number of traces currently held by the span tree",
		}),
		spans: f.NewGauge(prometheus.GaugeOpts{
			Name: "spantree_spans",
			Help: "Number of spans currently held by the span tree",
		}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.spansStarted.Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) fault(kind string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind).Inc()
}

func (m *Metrics) evicted(reason EvictReason, spans int) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(string(reason)).Inc()
	m.evictedSpans.WithLabelValues(string(reason)).Add(float64(spans))
}

func (m *Metrics) size(traces, spans int) {
	if m == nil {
		return
	}
	m.traces.Set(float64(traces))
	m.spans.Set(float64(spans))
}
