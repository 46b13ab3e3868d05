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
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey struct{}

// Frame identifies the span a task is executing in.
type Frame struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// ExecutionContext is the stack of frames of one logical task. Entering a
// nested operation pushes a frame, exiting pops it. Concurrent branches must
// each work on their own copy obtained through Tree.Fork.
type ExecutionContext struct {
	mtx    sync.Mutex
	frames []Frame
}

// Depth returns the number of frames on the stack.
func (ec *ExecutionContext) Depth() int {
	if ec == nil {
		return 0
	}
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	return len(ec.frames)
}

// Frames returns a copy of the stack, bottom first.
func (ec *ExecutionContext) Frames() []Frame {
	if ec == nil {
		return nil
	}
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	return append([]Frame(nil), ec.frames...)
}

func (ec *ExecutionContext) top() (Frame, bool) {
	if ec == nil {
		return Frame{}, false
	}
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	if len(ec.frames) == 0 {
		return Frame{}, false
	}
	return ec.frames[len(ec.frames)-1], true
}

// pop removes the frame of spanID and every frame above it. It returns the
// number of frames removed, 0 if spanID is not on the stack.
func (ec *ExecutionContext) pop(spanID string) int {
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	for i := len(ec.frames) - 1; i >= 0; i-- {
		if ec.frames[i].SpanID == spanID {
			n := len(ec.frames) - i
			ec.frames = ec.frames[:i]
			return n
		}
	}
	return 0
}

// Enter pushes the frame (traceID, spanID) onto parent and returns it. A nil
// parent starts a new stack with spanID as the trace root.
func (t *Tree) Enter(parent *ExecutionContext, spanID, traceID string) *ExecutionContext {
	f := Frame{TraceID: traceID, SpanID: spanID}
	if parent == nil {
		return &ExecutionContext{frames: []Frame{f}}
	}
	parent.mtx.Lock()
	parent.frames = append(parent.frames, f)
	parent.mtx.Unlock()
	return parent
}

// Exit pops the frame of spanID, restoring the caller's previous frame.
// Frames entered after spanID that were never exited are discarded as well.
// Exiting a frame that is not on the stack leaves the stack untouched and
// returns ErrFrameNotActive.
func (t *Tree) Exit(ec *ExecutionContext, spanID string) error {
	if ec == nil {
		t.fault("exit_nil_context", zap.String("span_id", spanID))
		return ErrNilContext
	}
	switch n := ec.pop(spanID); {
	case n == 0:
		t.fault("exit_inactive_frame", zap.String("span_id", spanID))
		return ErrFrameNotActive
	case n > 1:
		t.fault("exit_unbalanced", zap.String("span_id", spanID), zap.Int("discarded", n-1))
	}
	return nil
}

// Current returns the top frame of ec.
func (t *Tree) Current(ec *ExecutionContext) (Frame, bool) {
	return ec.top()
}

// Fork returns an independent copy of ec for a concurrently running branch.
// Fork of a nil context is nil.
func (t *Tree) Fork(ec *ExecutionContext) *ExecutionContext {
	if ec == nil {
		return nil
	}
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	return &ExecutionContext{frames: append(make([]Frame, 0, len(ec.frames)+1), ec.frames...)}
}

// NewContext returns a copy of ctx carrying ec.
func NewContext(ctx context.Context, ec *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, ec)
}

// FromContext returns the execution context carried by ctx, or nil.
func FromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	ec, _ := ctx.Value(contextKey{}).(*ExecutionContext)
	return ec
}
