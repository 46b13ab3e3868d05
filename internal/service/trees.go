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

package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/audit"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

const defaultAuditLimit = 100

type errorResponse struct {
	Service string    `json:"service"`
	TraceID string    `json:"traceId,omitempty"`
	Error   pkg.Error `json:"error"`
}

type pathResponse struct {
	TraceID       string   `json:"traceId"`
	Path          []string `json:"path"`
	FormattedPath string   `json:"formattedPath"`
	Depth         int      `json:"depth"`
}

type spansResponse struct {
	TraceID string               `json:"traceId"`
	Spans   []spantree.SpanShape `json:"spans"`
}

type leavesResponse struct {
	TraceID string          `json:"traceId"`
	Leaves  []spantree.Span `json:"leaves"`
}

type auditResponse struct {
	Entries []audit.Entry `json:"entries"`
}

func (ep *Endpoints) unknownTrace(w http.ResponseWriter, traceID string) {
	ep.writeJSON(w, http.StatusNotFound, errorResponse{
		Service: ep.ServiceName,
		TraceID: traceID,
		Error:   errUnknownTrace,
	})
}

// treeSummary returns the deepest path and size of a tracked trace.
func (ep *Endpoints) treeSummary(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	sum := ep.tree.TraceSummary(traceID, ep.SpanTree.SummaryOptions())
	if sum.SpanCount == 0 {
		ep.unknownTrace(w, traceID)
		return
	}
	ep.writeJSON(w, http.StatusOK, sum)
}

// treeSpans returns the structure of a tracked trace.
func (ep *Endpoints) treeSpans(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	spans := ep.tree.TraceSpans(traceID)
	if len(spans) == 0 {
		ep.unknownTrace(w, traceID)
		return
	}
	ep.writeJSON(w, http.StatusOK, spansResponse{TraceID: traceID, Spans: spans})
}

// treeLeaves returns the spans of a tracked trace without children.
func (ep *Endpoints) treeLeaves(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	leaves := ep.tree.LeafSpans(traceID)
	if len(leaves) == 0 {
		ep.unknownTrace(w, traceID)
		return
	}
	ep.writeJSON(w, http.StatusOK, leavesResponse{TraceID: traceID, Leaves: leaves})
}

// treePath returns the deepest root to leaf chain of a tracked trace.
func (ep *Endpoints) treePath(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	path := ep.tree.DeepestPath(traceID)
	if len(path) == 0 {
		ep.unknownTrace(w, traceID)
		return
	}
	ep.writeJSON(w, http.StatusOK, pathResponse{
		TraceID:       traceID,
		Path:          path,
		FormattedPath: spantree.FormatPath(path),
		Depth:         len(path),
	})
}

// auditLog returns recent audit entries, optionally filtered by traceID,
// since (RFC 3339) and limit query parameters.
func (ep *Endpoints) auditLog(w http.ResponseWriter, r *http.Request) {
	var store audit.Store
	if ep.Audit != nil {
		store = ep.Audit.Store()
	}
	if store == nil {
		ep.writeJSON(w, http.StatusNotFound, errorResponse{
			Service: ep.ServiceName,
			Error:   errAuditDisabled,
		})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		TraceID: q.Get("traceID"),
		Limit:   defaultAuditLimit,
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			ep.writeJSON(w, http.StatusBadRequest, errorResponse{
				Service: ep.ServiceName,
				Error:   errLimit,
			})
			return
		}
		filter.Limit = limit
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			ep.writeJSON(w, http.StatusBadRequest, errorResponse{
				Service: ep.ServiceName,
				Error:   pkg.Error(err.Error()),
			})
			return
		}
		filter.Since = since
	}

	entries, err := store.Read(r.Context(), filter)
	switch {
	case pkg.HasError(err, audit.ErrReadUnsupported):
		ep.writeJSON(w, http.StatusNotImplemented, errorResponse{
			Service: ep.ServiceName,
			Error:   errAuditReadOnly,
		})
		return
	case err != nil:
		ep.logger.Warn("failed to read audit log", zap.Error(err))
		ep.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Service: ep.ServiceName,
			Error:   errInternal,
		})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	ep.writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
