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
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openzipkin/zipkin-go/reporter/recorder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/spantree-tester/pkg"
	"github.com/basvanbeek/spantree-tester/pkg/audit"
	"github.com/basvanbeek/spantree-tester/pkg/observability/hierarchy"
	"github.com/basvanbeek/spantree-tester/pkg/observability/zipkin"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

type treeHolder struct{ tree *spantree.Tree }

func (h treeHolder) Tree() *spantree.Tree { return h.tree }

type storeHolder struct{ store audit.Store }

func (h storeHolder) Store() audit.Store { return h.store }

func newTestServer(t *testing.T, store audit.Store) *httptest.Server {
	t.Helper()

	zs := &zipkin.Service{
		Servicename: "svc",
		SampleRate:  1.0,
		Reporter:    recorder.NewReporter(),
	}
	require.NoError(t, zs.PreRun())

	reg := prometheus.NewRegistry()
	tree, err := spantree.New(spantree.DefaultConfig(),
		spantree.WithMetrics(spantree.NewMetrics(reg)))
	require.NoError(t, err)
	t.Cleanup(tree.Close)

	hs := &hierarchy.Service{
		ServiceName:  "svc",
		TraceURLBase: "http://zipkin:9411/zipkin",
		Delegate:     zs,
		Trees:        treeHolder{tree},
		Audit:        storeHolder{store},
	}
	require.NoError(t, hs.PreRun())

	ep := &Endpoints{
		ServiceName:  "svc",
		Instrumenter: hs,
		SpanTree:     hs,
		Audit:        storeHolder{store},
		Gatherer:     reg,
	}
	ep.FlagSet()
	require.NoError(t, ep.Validate())
	require.NoError(t, ep.PreRun())

	srv := httptest.NewServer(ep.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, v any) int {
	t.Helper()
	res, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestNestedSpans(t *testing.T) {
	srv := newTestServer(t, nil)

	var res response
	require.Equal(t, http.StatusOK, get(t, srv, "/nested/3/latency/0", &res))
	require.NotEmpty(t, res.SpanTreeTraceID)
	assert.Equal(t, res.TraceID, res.SpanTreeTraceID)
	id := res.SpanTreeTraceID

	var sum spantree.Summary
	require.Equal(t, http.StatusOK, get(t, srv, "/trees/"+id, &sum))
	assert.Equal(t, []string{"GET /nested/3/latency/0", "nested-1", "nested-2", "nested-3"}, sum.Path)
	assert.Equal(t, "GET /nested/3/latency/0 → nested-1 → nested-2 → nested-3", sum.FormattedPath)
	assert.Equal(t, 4, sum.Depth)
	assert.Equal(t, 4, sum.SpanCount)
	assert.Equal(t, "http://zipkin:9411/zipkin/traces/"+id, sum.TraceURL)

	var path pathResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/trees/"+id+"/path", &path))
	assert.Equal(t, sum.Path, path.Path)
	assert.Equal(t, 4, path.Depth)

	var leaves leavesResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/trees/"+id+"/leaves", &leaves))
	require.Len(t, leaves.Leaves, 1)
	assert.Equal(t, "nested-3", leaves.Leaves[0].Name)
	assert.Equal(t, "3", leaves.Leaves[0].Attributes["level"])
}

func TestLocalSpans(t *testing.T) {
	for _, concurrency := range []string{"serial", "mixed", "parallel"} {
		t.Run(concurrency, func(t *testing.T) {
			srv := newTestServer(t, nil)

			var res response
			require.Equal(t, http.StatusOK,
				get(t, srv, "/local/"+concurrency+"/latency/1ms", &res))

			var spans spansResponse
			require.Equal(t, http.StatusOK,
				get(t, srv, "/trees/"+res.SpanTreeTraceID+"/spans", &spans))
			require.Len(t, spans.Spans, 9)
			root := spans.Spans[0]
			assert.Empty(t, root.ParentSpanID)
			for _, s := range spans.Spans[1:] {
				assert.Equal(t, root.SpanID, s.ParentSpanID, s.Name)
			}

			var leaves leavesResponse
			require.Equal(t, http.StatusOK,
				get(t, srv, "/trees/"+res.SpanTreeTraceID+"/leaves", &leaves))
			assert.Len(t, leaves.Leaves, 8)
		})
	}
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		path    string
		wantErr pkg.Error
	}{
		{"/nested/0/latency/0", errDepth},
		{"/nested/33/latency/0", errDepth},
		{"/nested/x/latency/0", errDepth},
		{"/nested/2/latency/-1s", errDuration},
		{"/local/bogus/latency/0", errConcurrency},
		{"/local/serial/latency/soon", errDuration},
		{"/errors/101", errPercentage},
		{"/latency/-5", errDuration},
		{"/graceful/maybe", errHandleFailures},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var res response
			assert.Equal(t, http.StatusBadRequest, get(t, srv, tt.path, &res))
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestUnknownTrace(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, suffix := range []string{"", "/spans", "/leaves", "/path"} {
		var res errorResponse
		assert.Equal(t, http.StatusNotFound, get(t, srv, "/trees/abc"+suffix, &res))
		assert.Equal(t, errUnknownTrace, res.Error)
		assert.Equal(t, "abc", res.TraceID)
	}
}

func TestTreeRoutesAreNotTraced(t *testing.T) {
	srv := newTestServer(t, nil)

	var res response
	require.Equal(t, http.StatusOK, get(t, srv, "/", &res))
	id := res.SpanTreeTraceID
	require.NotEmpty(t, id)

	var sum spantree.Summary
	require.Equal(t, http.StatusOK, get(t, srv, "/trees/"+id, &sum))
	require.Equal(t, http.StatusOK, get(t, srv, "/trees/"+id, &sum))
	assert.Equal(t, 1, sum.SpanCount)

	res2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res2.Body.Close()
	body, err := io.ReadAll(res2.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "spantree_spans_started_total 1")
	assert.Contains(t, string(body), "spantree_traces 1")
}

func TestAuditLog(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)
		var res errorResponse
		assert.Equal(t, http.StatusNotFound, get(t, srv, "/audit", &res))
		assert.Equal(t, errAuditDisabled, res.Error)
	})

	t.Run("append only", func(t *testing.T) {
		store, err := audit.NewFileStore(filepath.Join(t.TempDir(), "audit.jsonl"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		srv := newTestServer(t, store)
		var res errorResponse
		assert.Equal(t, http.StatusNotImplemented, get(t, srv, "/audit", &res))
		assert.Equal(t, errAuditReadOnly, res.Error)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := audit.NewSQLiteStore(context.Background(),
			filepath.Join(t.TempDir(), "audit.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		srv := newTestServer(t, store)

		var first, second response
		require.Equal(t, http.StatusOK, get(t, srv, "/nested/2/latency/0", &first))
		require.Equal(t, http.StatusOK, get(t, srv, "/", &second))

		var all auditResponse
		require.Equal(t, http.StatusOK, get(t, srv, "/audit", &all))
		require.Len(t, all.Entries, 2)

		var one auditResponse
		require.Equal(t, http.StatusOK,
			get(t, srv, "/audit?traceID="+first.SpanTreeTraceID, &one))
		require.Len(t, one.Entries, 1)
		e := one.Entries[0]
		assert.Equal(t, "svc", e.Service)
		assert.Equal(t, 3, e.Depth)
		assert.Equal(t, "GET /nested/2/latency/0 → nested-1 → nested-2", e.DeepestPath)
		assert.Equal(t, http.StatusOK, e.StatusCode)

		var limited auditResponse
		require.Equal(t, http.StatusOK, get(t, srv, "/audit?limit=1", &limited))
		assert.Len(t, limited.Entries, 1)

		var bad errorResponse
		assert.Equal(t, http.StatusBadRequest, get(t, srv, "/audit?limit=0", &bad))
		assert.Equal(t, errLimit, bad.Error)
	})
}

func TestValidate(t *testing.T) {
	ep := &Endpoints{}
	flags := ep.FlagSet()
	require.NoError(t, flags.Parse([]string{
		"--" + flagErrors + "=150",
		"--" + flagDuration + "=-1s",
		"--" + flagMaxNesting + "=0",
	}))

	err := ep.Validate()
	require.Error(t, err)
	assert.True(t, pkg.HasError(err, errPercentage))
	assert.True(t, pkg.HasError(err, errDuration))
	assert.True(t, pkg.HasError(err, errDepth))
}

func TestPreRunRequiresDependencies(t *testing.T) {
	ep := &Endpoints{}
	assert.Equal(t, errMissingTracer, ep.PreRun())
}
