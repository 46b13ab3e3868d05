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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileStore appends entries as JSON lines to a file, or to stdout.
type FileStore struct {
	mtx  sync.Mutex
	w    io.Writer
	file *os.File
}

// NewFileStore opens path for appending. An empty path writes to stdout.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return &FileStore{w: os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileStore{w: f, file: f}, nil
}

// Write implements Store.
func (s *FileStore) Write(_ context.Context, entry Entry) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return json.NewEncoder(s.w).Encode(entry)
}

// Read implements Store. JSON line files are append only.
func (s *FileStore) Read(context.Context, Filter) ([]Entry, error) {
	return nil, ErrReadUnsupported
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
