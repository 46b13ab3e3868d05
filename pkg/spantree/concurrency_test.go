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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestForkedBranches(t *testing.T) {
	tree := newTestTree(t, testConfig(), clockz.NewFakeClock())

	root, rootEC := startIn(t, tree, "root", nil)

	const depth = 20
	branches := []string{"left", "right"}
	var (
		wg    sync.WaitGroup
		chain = make([][]Span, len(branches))
	)
	for i, name := range branches {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			ec := tree.Fork(rootEC)
			for d := 0; d < depth; d++ {
				span, err := tree.StartSpan(fmt.Sprintf("%s-%d", name, d), ec)
				if !assert.NoError(t, err) {
					return
				}
				tree.Enter(ec, span.SpanID, span.TraceID)
				chain[i] = append(chain[i], span)
				// the branch only ever sees its own frames
				assert.Equal(t, span.SpanID, tree.CurrentSpanID(ec))
				assert.Equal(t, d+2, ec.Depth())
			}
			for d := depth - 1; d >= 0; d-- {
				tree.EndSpan(chain[i][d].SpanID)
				assert.NoError(t, tree.Exit(ec, chain[i][d].SpanID))
			}
			assert.Equal(t, root.SpanID, tree.CurrentSpanID(ec))
		}(i, name)
	}
	wg.Wait()

	// the parent context never saw the branches
	assert.Equal(t, 1, rootEC.Depth())

	spans := tree.SpansOf(root.TraceID)
	require.Len(t, spans, 1+len(branches)*depth)
	for i := range branches {
		require.Len(t, chain[i], depth)
		parent := root.SpanID
		for _, s := range chain[i] {
			stored, ok := tree.Span(s.SpanID)
			require.True(t, ok)
			assert.Equal(t, parent, stored.ParentSpanID)
			assert.False(t, stored.Open())
			parent = s.SpanID
		}
	}
	assert.Len(t, tree.DeepestPath(root.TraceID), depth+1)
	assert.Len(t, tree.LeafSpans(root.TraceID), len(branches))
}

func TestConcurrentMutationsAndSweeps(t *testing.T) {
	clock := clockz.NewFakeClock()
	cfg := testConfig()
	cfg.MaxSpans = 50
	cfg.MaxTraces = 5
	tree := newTestTree(t, cfg, clock)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				root, err := tree.StartSpan("root", nil)
				if err != nil {
					continue
				}
				ec := tree.Enter(nil, root.SpanID, root.TraceID)
				child, err := tree.StartSpan("child", ec)
				if err == nil {
					tree.Annotate(child.SpanID, "i", i)
					tree.EndSpan(child.SpanID)
				}
				tree.EndSpan(root.SpanID)

				// a trace is either fully present or fully absent
				spans := tree.SpansOf(root.TraceID)
				if len(spans) > 0 {
					assert.Equal(t, root.SpanID, spans[0].SpanID)
					assert.True(t, spans[0].Root())
				}
				tree.TraceSummary(root.TraceID, SummaryOptions{})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			tree.Sweep()
		}
	}()
	wg.Wait()

	stats := tree.Stats()
	assert.LessOrEqual(t, stats.Spans, cfg.MaxSpans)
	assert.LessOrEqual(t, stats.Traces, cfg.MaxTraces)
}
