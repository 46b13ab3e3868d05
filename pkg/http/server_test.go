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

package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/spantree-tester/pkg"
)

func TestFlagDefaults(t *testing.T) {
	s := &Service{}
	flags := s.FlagSet()
	require.NotNil(t, s.Server)
	assert.Equal(t, defaultListenAddress, s.ListenAddress)
	assert.Equal(t, defaultReadTimeout, s.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, s.WriteTimeout)

	require.NoError(t, flags.Parse([]string{
		"-a", "localhost:9000",
		"--" + flagWriteTimeout, "1m",
	}))
	assert.Equal(t, "localhost:9000", s.ListenAddress)
	assert.Equal(t, time.Minute, s.WriteTimeout)
	assert.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		svc     Service
		wantErr error
	}{
		{"missing address", Service{ReadTimeout: time.Second, WriteTimeout: time.Second}, pkg.ErrRequired},
		{"zero read timeout", Service{ListenAddress: ":80", WriteTimeout: time.Second}, errTimeout},
		{"negative write timeout", Service{ListenAddress: ":80", ReadTimeout: time.Second, WriteTimeout: -1}, errTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.svc.Validate()
			require.Error(t, err)
			assert.True(t, pkg.HasError(err, tt.wantErr), "got %v", err)
		})
	}

	s := Service{ListenAddress: "no-port", ReadTimeout: time.Second, WriteTimeout: time.Second}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), flagListenAddress)
}

func TestServeInvalidAddress(t *testing.T) {
	s := &Service{ListenAddress: "127.0.0.1:99999"}
	s.FlagSet()
	assert.Error(t, s.Serve())
	s.GracefulStop()
}
