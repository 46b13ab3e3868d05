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

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/spantree-tester/pkg"
)

func testEntry(traceID string, at time.Time, depth int) Entry {
	e := NewEntry()
	e.Timestamp = at
	e.Service = "frontend"
	e.TraceID = traceID
	e.RootSpan = "GET /nested/3/latency/0s"
	e.Depth = depth
	e.SpanCount = depth
	e.DeepestPath = "GET → nested-1 → nested-2"
	e.TraceURL = "http://zipkin:9411/zipkin/traces/" + traceID
	e.StatusCode = 200
	e.DurationMs = 12
	return e
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := testEntry("aaaa", base, 3)
	second := testEntry("bbbb", base.Add(time.Second), 1)
	second.HostTraceID = "cccc"
	third := testEntry("aaaa", base.Add(2*time.Second), 2)
	for _, e := range []Entry{first, second, third} {
		require.NoError(t, store.Write(ctx, e))
	}

	t.Run("all newest first", func(t *testing.T) {
		entries, err := store.Read(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, third.ID, entries[0].ID)
		assert.Equal(t, second.ID, entries[1].ID)
		assert.Equal(t, first.ID, entries[2].ID)
		assert.Equal(t, second, entries[1])
	})

	t.Run("by trace", func(t *testing.T) {
		entries, err := store.Read(ctx, Filter{TraceID: "aaaa"})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, "aaaa", e.TraceID)
		}
	})

	t.Run("since and limit", func(t *testing.T) {
		entries, err := store.Read(ctx, Filter{Since: base.Add(time.Second), Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, third.ID, entries[0].ID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		assert.Error(t, store.Write(ctx, first))
	})
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), "")
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Write(ctx, testEntry("aaaa", base, 3)))
	require.NoError(t, store.Write(ctx, testEntry("bbbb", base, 1)))

	_, err = store.Read(ctx, Filter{})
	assert.True(t, pkg.HasError(err, ErrReadUnsupported))
	require.NoError(t, store.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var traceIDs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		traceIDs = append(traceIDs, e.TraceID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"aaaa", "bbbb"}, traceIDs)
}

func TestServiceValidate(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		path    string
		wantErr error
	}{
		{"none", DriverNone, "", nil},
		{"file to stdout", DriverFile, "", nil},
		{"sqlite", DriverSQLite, "audit.db", nil},
		{"sqlite without path", DriverSQLite, "", pkg.ErrRequired},
		{"unknown driver", "postgres", "", errUnknownDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Service{Driver: tt.driver, Path: tt.path}
			err := s.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, pkg.HasError(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestServiceLifecycle(t *testing.T) {
	s := &Service{}
	_ = s.FlagSet()
	assert.Equal(t, DriverNone, s.Driver)
	require.NoError(t, s.Validate())
	require.NoError(t, s.PreRun())
	assert.Nil(t, s.Store())

	s = &Service{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "audit.db")}
	require.NoError(t, s.Validate())
	require.NoError(t, s.PreRun())
	require.NotNil(t, s.Store())

	done := make(chan error)
	go func() { done <- s.Serve() }()
	s.GracefulStop()
	assert.NoError(t, <-done)
}
