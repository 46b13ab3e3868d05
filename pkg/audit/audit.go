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

// Package audit records the span tree summary of every finished request.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/basvanbeek/spantree-tester/pkg"
)

// ErrReadUnsupported is returned by stores that can only append.
const ErrReadUnsupported pkg.Error = "audit store does not support reads"

// Entry is one audit record.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	TraceID     string    `json:"traceId"`
	HostTraceID string    `json:"hostTraceId,omitempty"`
	RootSpan    string    `json:"rootSpan"`
	Depth       int       `json:"depth"`
	SpanCount   int       `json:"spanCount"`
	DeepestPath string    `json:"deepestPath"`
	TraceURL    string    `json:"traceUrl,omitempty"`
	StatusCode  int       `json:"statusCode,omitempty"`
	DurationMs  int64     `json:"durationMs"`
}

// NewEntry returns an Entry with a fresh ID and the current time.
func NewEntry() Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// Filter narrows down Read results.
type Filter struct {
	TraceID string
	Since   time.Time
	Limit   int
}

// Store persists audit entries.
type Store interface {
	// Write appends entry to the store.
	Write(ctx context.Context, entry Entry) error
	// Read returns the entries matching filter, newest first.
	Read(ctx context.Context, filter Filter) ([]Entry, error)
	// Close releases the store.
	Close() error
}
