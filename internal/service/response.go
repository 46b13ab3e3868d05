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
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

type response struct {
	Service         string      `json:"service"`
	Code            int         `json:"statusCode"`
	TraceID         string      `json:"traceID"`
	SpanTreeTraceID string      `json:"spanTreeTraceID,omitempty"`
	Message         string      `json:"message,omitempty"`
	Error           pkg.Error   `json:"error,omitempty"`
	Headers         http.Header `json:"headers,omitempty"`
}

func (ep *Endpoints) writeResponse(ctx context.Context, w http.ResponseWriter, res response) {
	res.Service = ep.ServiceName
	res.TraceID = ep.traceID(ctx)
	res.SpanTreeTraceID = ep.tree.CurrentTraceID(spantree.FromContext(ctx))
	ep.writeJSON(w, res.Code, res)
}

func (ep *Endpoints) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Add("Content-Type", "application/json")
	if code > 0 {
		w.WriteHeader(code)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		ep.logger.Warn("error while writing http response", zap.Error(err))
	}
}

func (ep *Endpoints) traceID(ctx context.Context) string {
	return ep.Instrumenter.SpanFromContext(ctx).TraceID()
}
