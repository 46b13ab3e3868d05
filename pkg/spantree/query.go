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
	"strings"
	"time"
)

// PathSeparator joins span names in a formatted path.
const PathSeparator = " → "

// SummaryOptions tunes TraceSummary.
type SummaryOptions struct {
	// TraceURLBase, when set, is used to build a link to the trace in the
	// tracing backend: TraceURLBase + "/traces/" + traceID.
	TraceURLBase string
}

// Summary describes the shape of a trace.
type Summary struct {
	TraceID       string   `json:"traceId"`
	Path          []string `json:"path"`
	FormattedPath string   `json:"formattedPath"`
	Depth         int      `json:"depth"`
	SpanCount     int      `json:"spanCount"`
	TraceURL      string   `json:"traceUrl,omitempty"`
}

// CurrentTraceID returns the trace id of the top frame of ec.
func (t *Tree) CurrentTraceID(ec *ExecutionContext) string {
	f, _ := t.Current(ec)
	return f.TraceID
}

// CurrentSpanID returns the span id of the top frame of ec.
func (t *Tree) CurrentSpanID(ec *ExecutionContext) string {
	f, _ := t.Current(ec)
	return f.SpanID
}

// DeepestPath returns the span names of the longest root to leaf chain of
// traceID. Of equally long chains the one started earliest wins.
func (t *Tree) DeepestPath(traceID string) []string {
	return names(deepestPath(t.SpansOf(traceID)))
}

// LeafSpans returns the spans of traceID without children, in start order.
func (t *Tree) LeafSpans(traceID string) []Span {
	spans := t.SpansOf(traceID)
	parents := make(map[string]struct{}, len(spans))
	for _, s := range spans {
		if !s.Root() {
			parents[s.ParentSpanID] = struct{}{}
		}
	}

	var leaves []Span
	for _, s := range spans {
		if _, ok := parents[s.SpanID]; !ok {
			leaves = append(leaves, s)
		}
	}
	return leaves
}

// TraceSummary computes the deepest path and size of traceID. An unknown
// trace yields a summary with only TraceID set.
func (t *Tree) TraceSummary(traceID string, opts SummaryOptions) Summary {
	spans := t.SpansOf(traceID)
	sum := Summary{TraceID: traceID}
	if len(spans) == 0 {
		return sum
	}

	sum.Path = names(deepestPath(spans))
	sum.FormattedPath = FormatPath(sum.Path)
	sum.Depth = len(sum.Path)
	sum.SpanCount = len(spans)
	sum.TraceURL = TraceURL(opts.TraceURLBase, traceID)
	return sum
}

// FormatPath joins span names with PathSeparator.
func FormatPath(path []string) string {
	return strings.Join(path, PathSeparator)
}

// TraceURL links traceID in the tracing backend found at base. It returns an
// empty string if base is empty.
func TraceURL(base, traceID string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/traces/" + traceID
}

// TraceSpans returns the structure of traceID in start order.
func (t *Tree) TraceSpans(traceID string) []SpanShape {
	spans := t.SpansOf(traceID)
	if len(spans) == 0 {
		return nil
	}
	shapes := make([]SpanShape, len(spans))
	for i, s := range spans {
		shapes[i] = SpanShape{
			SpanID:       s.SpanID,
			Name:         s.Name,
			ParentSpanID: s.ParentSpanID,
		}
	}
	return shapes
}

// deepestPath walks the trees formed by spans depth first, children in start
// order. The longest chain wins; equal lengths are decided by the smaller sum
// of start times, then by discovery order.
func deepestPath(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}

	children := make(map[string][]int, len(spans))
	var roots []int
	for i, s := range spans {
		if s.Root() {
			roots = append(roots, i)
			continue
		}
		children[s.ParentSpanID] = append(children[s.ParentSpanID], i)
	}

	var (
		best    []int
		bestSum startSum
		path    []int
		walk    func(i int, sum startSum)
	)
	walk = func(i int, sum startSum) {
		path = append(path, i)
		sum = sum.add(spans[i].StartedAt)

		kids := children[spans[i].SpanID]
		if len(kids) == 0 {
			if len(path) > len(best) || (len(path) == len(best) && sum.less(bestSum)) {
				best = append(best[:0], path...)
				bestSum = sum
			}
		}
		for _, k := range kids {
			walk(k, sum)
		}

		path = path[:len(path)-1]
	}
	for _, r := range roots {
		walk(r, startSum{})
	}

	out := make([]Span, len(best))
	for i, idx := range best {
		out[i] = spans[idx]
	}
	return out
}

// startSum adds up start times as whole seconds plus nanoseconds, so sums over
// arbitrary timestamps cannot overflow.
type startSum struct {
	sec  int64
	nsec int64
}

func (s startSum) add(t time.Time) startSum {
	s.sec += t.Unix()
	s.nsec += int64(t.Nanosecond())
	s.sec += s.nsec / int64(time.Second)
	s.nsec %= int64(time.Second)
	return s
}

func (s startSum) less(o startSum) bool {
	return s.sec < o.sec || (s.sec == o.sec && s.nsec < o.nsec)
}

func names(spans []Span) []string {
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Name
	}
	return out
}
