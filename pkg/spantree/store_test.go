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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		valid bool
	}{
		{"defaults", DefaultConfig(), true},
		{"zero", Config{}, false},
		{"negative-ttl", Config{TTL: -time.Second, MaxSpans: 1, MaxTraces: 1, SweepInterval: time.Second}, false},
		{"slow-sweep", Config{TTL: 10 * time.Second, MaxSpans: 1, MaxTraces: 1, SweepInterval: 6 * time.Second}, false},
		{"half-ttl-sweep", Config{TTL: 10 * time.Second, MaxSpans: 1, MaxTraces: 1, SweepInterval: 5 * time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := New(tt.cfg)
			if tt.valid {
				require.NoError(t, err)
				tree.Close()
				return
			}
			assert.Error(t, err)
			assert.Nil(t, tree)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, 10000, cfg.MaxSpans)
	assert.Equal(t, 1000, cfg.MaxTraces)
	assert.LessOrEqual(t, cfg.SweepInterval, cfg.TTL/2)
}

func TestStartSpanLinksParent(t *testing.T) {
	clock := clockz.NewFakeClock()
	tree := newTestTree(t, testConfig(), clock)

	root, ec := startIn(t, tree, "root", nil)
	assert.True(t, root.Root())
	assert.True(t, root.Open())
	assert.NotEmpty(t, root.TraceID)
	assert.Equal(t, clock.Now(), root.StartedAt)

	child, err := tree.StartSpan("child", ec)
	require.NoError(t, err)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentSpanID)
	assert.NotEqual(t, root.SpanID, child.SpanID)

	other, err := tree.StartSpan("other", nil)
	require.NoError(t, err)
	assert.NotEqual(t, root.TraceID, other.TraceID)
	assert.True(t, other.Root())

	stats := tree.Stats()
	assert.Equal(t, 2, stats.Traces)
	assert.Equal(t, 3, stats.Spans)
}

func TestStartSpanWithTraceID(t *testing.T) {
	tree := newTestTree(t, testConfig(), clockz.NewFakeClock())

	first, err := tree.StartSpan("first", nil, WithTraceID("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", first.TraceID)

	// a second root may not join an already tracked trace
	second, err := tree.StartSpan("second", nil, WithTraceID("abc"))
	require.NoError(t, err)
	assert.NotEqual(t, "abc", second.TraceID)
	assert.Len(t, tree.SpansOf("abc"), 1)

	// children ignore the option
	ec := tree.Enter(nil, first.SpanID, first.TraceID)
	child, err := tree.StartSpan("child", ec, WithTraceID("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "abc", child.TraceID)
}

func TestStartSpanWithStartTime(t *testing.T) {
	tree := newTestTree(t, testConfig(), clockz.NewFakeClock())

	at := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	span, err := tree.StartSpan("replayed", nil, WithStartTime(at))
	require.NoError(t, err)
	assert.Equal(t, at, span.StartedAt)
}

func TestEndSpan(t *testing.T) {
	clock := clockz.NewFakeClock()
	tree := newTestTree(t, testConfig(), clock)

	span, err := tree.StartSpan("op", nil)
	require.NoError(t, err)

	clock.Advance(25 * time.Millisecond)
	tree.EndSpan(span.SpanID)

	ended, ok := tree.Span(span.SpanID)
	require.True(t, ok)
	assert.False(t, ended.Open())
	assert.Equal(t, 25*time.Millisecond, ended.Duration())

	// ending twice leaves the span as it was after the first end
	before := tree.SpansOf(span.TraceID)
	statsBefore := tree.Stats()
	clock.Advance(time.Second)
	tree.EndSpan(span.SpanID)
	assert.Equal(t, before, tree.SpansOf(span.TraceID))
	assert.Equal(t, statsBefore, tree.Stats())

	// unknown spans are ignored
	tree.EndSpan("does-not-exist")
	assert.Equal(t, statsBefore, tree.Stats())
}

func TestAnnotate(t *testing.T) {
	tree := newTestTree(t, testConfig(), clockz.NewFakeClock())

	span, err := tree.StartSpan("op", nil)
	require.NoError(t, err)

	tree.Annotate(span.SpanID, "user.id", "123")
	tree.Annotate(span.SpanID, "attempt", 1)
	tree.Annotate(span.SpanID, "attempt", 2)
	tree.Annotate(span.SpanID, "cached", true)
	tree.Annotate(span.SpanID, "latency", 3*time.Millisecond)
	tree.Annotate(span.SpanID, "payload", map[string]string{"a": "b"})
	tree.Annotate(span.SpanID, "list", []int{1, 2})
	tree.Annotate("unknown", "k", "v")

	got, ok := tree.Span(span.SpanID)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"user.id": "123",
		"attempt": 2,
		"cached":  true,
		"latency": 3 * time.Millisecond,
	}, got.Attributes)

	// snapshots are copies
	got.Attributes["user.id"] = "changed"
	again, _ := tree.Span(span.SpanID)
	assert.Equal(t, "123", again.Attributes["user.id"])

	tree.EndSpan(span.SpanID)
	tree.Annotate(span.SpanID, "late", "dropped")
	closed, _ := tree.Span(span.SpanID)
	assert.NotContains(t, closed.Attributes, "late")
}

func TestSpansOfRoundTrip(t *testing.T) {
	clock := clockz.NewFakeClock()
	tree := newTestTree(t, testConfig(), clock)

	root, ec := startIn(t, tree, "root", nil)
	want := []string{root.SpanID}
	for _, name := range []string{"a", "b", "c", "d"} {
		clock.Advance(time.Millisecond)
		span, err := tree.StartSpan(name, ec)
		require.NoError(t, err)
		want = append(want, span.SpanID)
	}

	spans := tree.SpansOf(root.TraceID)
	require.Len(t, spans, len(want))
	seen := make(map[string]int)
	for i, s := range spans {
		assert.Equal(t, want[i], s.SpanID, "start order")
		seen[s.SpanID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "span %s", id)
	}

	assert.Nil(t, tree.SpansOf("unknown"))
}
