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

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/signal"

	"github.com/basvanbeek/spantree-tester/internal/service"
	"github.com/basvanbeek/spantree-tester/pkg/audit"
	pkghttp "github.com/basvanbeek/spantree-tester/pkg/http"
	"github.com/basvanbeek/spantree-tester/pkg/logging"
	pkgobs "github.com/basvanbeek/spantree-tester/pkg/observability"
	"github.com/basvanbeek/spantree-tester/pkg/observability/hierarchy"
	pkgskywalking "github.com/basvanbeek/spantree-tester/pkg/observability/skywalking"
	pkgzipkin "github.com/basvanbeek/spantree-tester/pkg/observability/zipkin"
	"github.com/basvanbeek/spantree-tester/pkg/spantree"
)

const (
	defaultServiceName       = "demosvc"
	defaultHTTPListenAddress = ":8000"

	defaultZipkinAddress        = "http://zipkin.istio-system.svc.cluster.local:9411/api/v2/spans"
	defaultSkywalkingOAPAddress = "oap.default.svc.cluster.local:11800"
	defaultSampleRate           = 1.0
	defaultSingleHostSpans      = true
)

func main() {
	// we take the serviceName from an environment variable as we need
	// this information to be available prior to run.Group bootstrap.
	serviceName := os.Getenv("SVCNAME")
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	serviceInstanceName := os.Getenv("HOSTNAME")
	if serviceInstanceName == "" {
		serviceInstanceName = serviceName
	}

	g := run.Group{
		Name:     serviceName,
		HelpText: "Flexible HTTP service to create observed topologies and inspect their span trees",
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svcLog := &logging.Service{}

	// init with sensible defaults
	svcObs := &pkgobs.Service{
		ObservabilityInstrumenter: pkgobs.ZipkinInstrumenter,
		Log:                       svcLog,
		Instrumenters: []pkgobs.InstrumenterService{
			&pkgzipkin.Service{
				Servicename:     serviceName,
				Address:         defaultZipkinAddress,
				SampleRate:      defaultSampleRate,
				SingleHostSpans: defaultSingleHostSpans,
				Log:             svcLog,
			},
			&pkgskywalking.Service{
				Servicename:         serviceName,
				ServiceInstanceName: serviceInstanceName,
				Address:             defaultSkywalkingOAPAddress,
				SampleRate:          defaultSampleRate,
				Log:                 svcLog,
			},
		},
	}

	svcTree := &spantree.Service{
		Log:        svcLog,
		Registerer: registry,
	}
	svcAudit := &audit.Service{
		Log: svcLog,
	}
	svcHierarchy := &hierarchy.Service{
		ServiceName: serviceName,
		Delegate:    svcObs,
		Trees:       svcTree,
		Audit:       svcAudit,
		Log:         svcLog,
	}

	svcEndpoints := &service.Endpoints{
		ServiceName:  serviceName,
		Instrumenter: svcHierarchy,
		SpanTree:     svcHierarchy,
		Audit:        svcAudit,
		Gatherer:     registry,
		Log:          svcLog,
	}
	svcHTTP := &pkghttp.Service{
		ListenAddress: defaultHTTPListenAddress,
		Log:           svcLog,
	}
	g.Register(
		new(signal.Handler),
		svcLog,
		svcObs,
		svcTree,
		svcAudit,
		svcHierarchy,
		svcEndpoints,
		svcHTTP,
		run.NewPreRunner(serviceName, func() error {
			svcHTTP.Handler = svcEndpoints.Handler()
			return nil
		}),
	)

	if err := g.Run(); err != nil {
		fmt.Printf("%s exit: %v\n", g.Name, err)
		if !errors.Is(err, run.ErrRequestedShutdown) {
			// We had an actual fatal error.
			os.Exit(-1)
		}
	}
}
