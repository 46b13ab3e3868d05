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

// Package spantree keeps an in-memory index of span hierarchies so that the
// structure of a trace can still be queried after its nested operations have
// finished, e.g. "which was the deepest chain of nested operations?".
//
// A Tree combines four parts:
//
//   - a context registry: ExecutionContext stacks of (trace, span) frames
//     that callers pass explicitly and Fork for concurrent branches.
//   - a span store: StartSpan, EndSpan, Annotate and SpansOf.
//   - an eviction manager: a TTL based sweep and span / trace ceilings
//     enforced by evicting the least recently active traces as a whole.
//   - a query engine: DeepestPath, LeafSpans, TraceSummary and TraceSpans.
//
// Misuse (double end, late attributes, unbalanced exits) is logged and
// ignored. The only error a caller has to handle is ErrCapacityExceeded from
// StartSpan, meaning the span is not tracked.
package spantree
