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

import "github.com/basvanbeek/spantree-tester/pkg"

const (
	// ErrCapacityExceeded is returned by StartSpan when the span cannot be
	// tracked. Callers should carry on without tree tracking for that span.
	ErrCapacityExceeded pkg.Error = "span tree capacity exceeded"

	// ErrFrameNotActive is returned by Exit for a frame that is not on the
	// execution context stack.
	ErrFrameNotActive pkg.Error = "execution frame is not active"

	// ErrNilContext is returned by Exit when no execution context is given.
	ErrNilContext pkg.Error = "nil execution context"

	errMustBePositive pkg.Error = "must be positive"
	errSweepTooSlow   pkg.Error = "must not exceed half of the TTL"
)
