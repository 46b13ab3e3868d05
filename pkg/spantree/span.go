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
	"time"
)

// Span is a point in time copy of a tracked span.
type Span struct {
	SpanID       string         `json:"spanId"`
	TraceID      string         `json:"traceId"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
	Name         string         `json:"name"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      time.Time      `json:"endedAt,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Open reports whether the span has not ended yet.
func (s Span) Open() bool {
	return s.EndedAt.IsZero()
}

// Root reports whether the span has no parent.
func (s Span) Root() bool {
	return s.ParentSpanID == ""
}

// Duration returns the span's duration, 0 while open.
func (s Span) Duration() time.Duration {
	if s.Open() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// SpanShape is the structural view of a span.
type SpanShape struct {
	SpanID       string `json:"spanId"`
	Name         string `json:"name"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
}

type spanRecord struct {
	spanID       string
	traceID      string
	parentSpanID string
	name         string
	startedAt    time.Time
	endedAt      time.Time
	attributes   map[string]any
}

func (r *spanRecord) open() bool {
	return r.endedAt.IsZero()
}

func (r *spanRecord) snapshot() Span {
	s := Span{
		SpanID:       r.spanID,
		TraceID:      r.traceID,
		ParentSpanID: r.parentSpanID,
		Name:         r.name,
		StartedAt:    r.startedAt,
		EndedAt:      r.endedAt,
	}
	if len(r.attributes) > 0 {
		s.Attributes = make(map[string]any, len(r.attributes))
		for k, v := range r.attributes {
			s.Attributes[k] = v
		}
	}
	return s
}

type traceRecord struct {
	id           string
	spans        []*spanRecord
	lastActivity time.Time
}

// touch records activity at now. Activity only moves forward.
func (tr *traceRecord) touch(now time.Time) {
	if now.After(tr.lastActivity) {
		tr.lastActivity = now
	}
}

// isScalar reports whether v can be stored as an attribute value.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Duration:
		return true
	}
	return false
}
