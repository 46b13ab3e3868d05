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

package hierarchy

import (
	"context"

	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg/observability"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

type tracer struct {
	s        *Service
	delegate observability.Tracer
}

// StartSpanFromContext implements observability.Tracer. The execution
// context found in ctx is forked so sibling spans started from the same ctx,
// possibly from different goroutines, never share a stack.
func (t *tracer) StartSpanFromContext(ctx context.Context, name string) observability.Span {
	host := t.delegate.StartSpanFromContext(ctx, name)
	tree := t.s.tree

	ec := tree.Fork(spantree.FromContext(ctx))
	span, err := tree.StartSpan(name, ec, spantree.WithTraceID(host.TraceID()))
	if err != nil {
		t.s.logger.Debug("span not tracked by span tree",
			zap.String("span", name), zap.Error(err))
		return host
	}
	ec = tree.Enter(ec, span.SpanID, span.TraceID)

	return &spanAdapter{
		Span:   host,
		tree:   tree,
		spanID: span.SpanID,
		ec:     ec,
		ctx:    spantree.NewContext(host.Context(), ec),
	}
}

// spanAdapter pairs a host span with its tree span.
type spanAdapter struct {
	observability.Span
	tree   *spantree.Tree
	spanID string
	ec     *spantree.ExecutionContext
	ctx    context.Context
}

// Context implements observability.Span
func (s *spanAdapter) Context() context.Context {
	return s.ctx
}

// Tag implements observability.Span
func (s *spanAdapter) Tag(key, value string) {
	s.tree.Annotate(s.spanID, key, value)
	s.Span.Tag(key, value)
}

// Finish implements observability.Span
func (s *spanAdapter) Finish() {
	s.tree.EndSpan(s.spanID)
	_ = s.tree.Exit(s.ec, s.spanID)
	s.Span.Finish()
}

// currentSpan is the span found in a context. It is owned by whoever started
// it, so only tags are mirrored.
type currentSpan struct {
	observability.Span
	tree   *spantree.Tree
	spanID string
}

// Tag implements observability.Span
func (s *currentSpan) Tag(key, value string) {
	s.tree.Annotate(s.spanID, key, value)
	s.Span.Tag(key, value)
}
