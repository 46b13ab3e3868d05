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
	"testing"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

// seqIDs hands out increasing identifiers so that trace id ordering in tests
// follows creation order.
type seqIDs struct {
	mtx   sync.Mutex
	trace uint64
	span  uint64
}

func (g *seqIDs) TraceID() model.TraceID {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.trace++
	return model.TraceID{Low: g.trace}
}

func (g *seqIDs) SpanID(model.TraceID) model.ID {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.span++
	return model.ID(g.span)
}

// fakeClock is the part of the clockz fake clock the tests drive.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

func testConfig() Config {
	return Config{
		TTL:           10 * time.Second,
		MaxSpans:      100,
		MaxTraces:     10,
		SweepInterval: time.Second,
	}
}

func newTestTree(t *testing.T, cfg Config, clock clockz.Clock, opts ...Option) *Tree {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithIDGenerator(&seqIDs{})}, opts...)
	tree, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

// startIn starts a span under ec and enters it, returning the span and the
// context to use for its children.
func startIn(t *testing.T, tree *Tree, name string, ec *ExecutionContext) (Span, *ExecutionContext) {
	t.Helper()
	span, err := tree.StartSpan(name, ec)
	require.NoError(t, err)
	return span, tree.Enter(tree.Fork(ec), span.SpanID, span.TraceID)
}

// scriptedClock hands out queued readings from Now, repeating the last one.
// It models readings taken by racing callers arriving out of order.
type scriptedClock struct {
	clockz.Clock
	mtx   sync.Mutex
	times []time.Time
}

func (c *scriptedClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func (c *scriptedClock) Since(t time.Time) time.Duration {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.times[0].Sub(t)
}
