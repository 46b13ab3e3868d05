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

// Package observability defines the tracing abstraction the endpoints are
// instrumented with. Concrete providers live in sub packages; the hierarchy
// sub package decorates a provider with span tree tracking.
package observability

import (
	"context"
	"net/http"

	xcontext "golang.org/x/net/context"
)

// Tracer starts spans on behalf of the endpoints.
type Tracer interface {
	// StartSpanFromContext creates and starts a span as child of the span
	// found in ctx, if any. Use the returned Span's Context for nested work.
	StartSpanFromContext(ctx context.Context, name string) Span
}

// Span as returned by Tracer.StartSpanFromContext.
type Span interface {
	// Context returns a context carrying this span.
	Context() context.Context
	// TraceID returns the Span's trace identifier.
	TraceID() string
	// SetName updates the Span's name.
	SetName(string)
	// Tag sets Tag with given key and value to the Span. If key already exists in
	// the Span the value will be overridden except for error tags where the first
	// value is persisted.
	Tag(string, string)
	// Finish the Span and send to Reporter.
	Finish()
}

// Contexter is an extension interface to retrieve the current span from Go's
// context.
type Contexter interface {
	// SpanFromContext retrieves a Span from Go's context propagation
	// mechanism. If not found, a no-op Span is returned.
	SpanFromContext(ctx xcontext.Context) Span
}

// Tracerer is an extension interface that observability Services can implement
// to provide tracing functionalities.
type Tracerer interface {
	Tracer() Tracer
}

// Middlewareer is an extension interface that observability Services can implement
// to provide an instrumented middleware.
type Middlewareer interface {
	Middleware() func(http.Handler) http.Handler
}

// Transporter is an extension interface that observability Services can implement
// to provide an instrumented http.RoundTripper.
type Transporter interface {
	Transport(transport http.RoundTripper) (http.RoundTripper, error)
}

// TraceViewer is an extension interface for providers whose backend has a
// web UI. TraceURLBase returns the base that trace ids are appended to as
// "/traces/<id>", or an empty string if unknown.
type TraceViewer interface {
	TraceURLBase() string
}

// Instrumenter is an interface a concrete tracing provider needs to implement.
type Instrumenter interface {
	Tracerer
	Contexter
	Middlewareer
	Transporter
}
