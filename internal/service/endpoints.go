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
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// parseDuration accepts Go duration strings as well as raw milliseconds.
func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		// not a duration string, let's see if it is a raw number...
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, errDuration
		}
		d = time.Duration(i) * time.Millisecond
	}
	if d < 0 {
		return 0, errDuration
	}
	return d, nil
}

// setErrors allows one to set the percentage of error responses this service
// will generate on the main echoHandler.
func (ep *Endpoints) setErrors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	i, err := strconv.Atoi(mux.Vars(r)["percentage"])
	if err != nil || i < 0 || i > 100 {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errPercentage,
		})
		return
	}
	ep.mtx.Lock()
	ep.errors = int32(i)
	ep.mtx.Unlock()

	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Message: fmt.Sprintf("errors percentage set to: %d%%", i),
	})
}

// setLatency allows one to set the latency this service will generate on the
// main echoHandler and when proxying.
func (ep *Endpoints) setLatency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := parseDuration(mux.Vars(r)["duration"])
	if err != nil {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errDuration,
		})
		return
	}

	ep.mtx.Lock()
	ep.duration = d
	ep.mtx.Unlock()

	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Message: fmt.Sprintf("duration set to: %s", d.String()),
	})
}

// setHandleFailures allows one to set behavior of this service's proxy handler.
// If set to true, a downstream error will not cascade into a failure by this
// event. Instead, it will mimick a service that is resilient to downstream
// issues and can report back successfully.
func (ep *Endpoints) setHandleFailures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var h bool
	switch strings.ToLower(mux.Vars(r)["handleFailures"]) {
	case "1", "on", "yes", "y", "true", "t":
		h = true
	case "0", "off", "no", "n", "false", "f":
		h = false
	default:
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errHandleFailures,
		})
		return
	}

	ep.mtx.Lock()
	ep.handleFailures = h
	ep.mtx.Unlock()

	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Message: fmt.Sprintf("handle failures set to: %t", h),
	})
}

// emulateConcurrency instructs this service to run 8 fake heavy local methods.
// The methods will take the provided duration as their run time. The
// concurrency argument will instruct these methods to run serial, in parallel,
// or mixed serial and parallel. The methods are instrumented as local spans,
// so they will show up in your trace graph and as siblings in the span tree.
func (ep *Endpoints) emulateConcurrency(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		vars = mux.Vars(r)
	)
	d, err := parseDuration(vars["duration"])
	if err != nil {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errDuration,
		})
		return
	}

	// we will be emulating 8 heavy internal functions
	var wg sync.WaitGroup

	proc := func(i int) {
		defer wg.Done()
		span := ep.tracer.StartSpanFromContext(ctx, fmt.Sprintf("proc-%d", i))
		defer span.Finish()

		span.Tag("duration", d.String())
		time.Sleep(d)
	}

	switch strings.ToLower(vars["concurrency"]) {
	case "serial":
		for i := 0; i < 8; i++ {
			wg.Add(1)
			proc(i)
		}
	case "mixed":
		for i := 0; i < 8; i++ {
			wg.Add(1)
			if i%2 == 0 {
				go proc(i)
				continue
			}
			proc(i)
		}
	case "parallel":
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go proc(i)
		}
	default:
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errConcurrency,
		})
		return
	}

	// wait until all goroutines are finished
	wg.Wait()

	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Message: "ran several local spans",
	})
}

// emulateNesting creates a chain of depth local spans, each a child of the
// previous one, each taking the provided duration before descending.
func (ep *Endpoints) emulateNesting(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		vars = mux.Vars(r)
	)
	depth, err := strconv.Atoi(vars["depth"])
	if err != nil || depth < 1 || depth > ep.MaxNesting {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errDepth,
		})
		return
	}
	d, err := parseDuration(vars["duration"])
	if err != nil {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errDuration,
		})
		return
	}

	var nest func(ctx context.Context, level int)
	nest = func(ctx context.Context, level int) {
		if level > depth {
			return
		}
		span := ep.tracer.StartSpanFromContext(ctx, fmt.Sprintf("nested-%d", level))
		defer span.Finish()

		span.Tag("level", strconv.Itoa(level))
		time.Sleep(d)
		nest(span.Context(), level+1)
	}
	nest(ctx, 1)

	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Message: fmt.Sprintf("ran %d nested local spans", depth),
	})
}

// proxy parses and strips the first /proxy/service:port directive from the path
// and reverse proxies the remaining path request to the targeted service.
// This allows us to hop from service to service by providing path chunks
// referencing the services.
//
// Example path: /proxy/svcf/proxy/svcd/proxy/svcb/errors/50
// This path will hop from app ingress to svdf, svcd, svcb, where this final
// svcb will receive an /errors/50 request to handle.
func (ep *Endpoints) proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host := mux.Vars(r)["service"]
	if host == "" {
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusBadRequest,
			Error: errProxyService,
		})
		return
	}

	ep.mtx.RLock()
	d := ep.duration
	e := ep.errors
	h := ep.handleFailures
	ep.mtx.RUnlock()

	// inject configured latency
	time.Sleep(d)

	if rand.Int31n(100) < e {
		// return error response...
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusInternalServerError,
			Error: errInternal,
		})
		return
	}

	r.Header = r.Header.Clone()
	r.Host = host // this is needed or Envoy will get confused where to route it
	r.Header.Add("Proxied-By", ep.ServiceName)
	var (
		svc  = fmt.Sprintf("http://%s", host)
		path = strings.TrimPrefix(r.URL.Path, "/proxy/"+host)
		u, _ = url.Parse(svc)
		p    = httputil.NewSingleHostReverseProxy(u)
	)

	p.Transport, _ = ep.Instrumenter.Transport(p.Transport)
	r.URL, _ = url.Parse(svc + path)

	if h {
		p.ModifyResponse = func(res *http.Response) error {
			if res.StatusCode == http.StatusOK {
				// proceed unaltered
				return nil
			}
			// let's mimick a service that did a client request which failed,
			// but due to nice business logic it is still able to handle
			// the failure gracefully and return success status itself.
			raw, _ := io.ReadAll(res.Body)
			_ = res.Body.Close()
			ep.writeResponse(ctx, w, response{
				Code: http.StatusOK,
				Message: fmt.Sprintf(
					"%s called %s and got error return: %s",
					ep.ServiceName, svc+path, string(raw)),
			})
			// bail proxy logic, we returned details upstream ourselves
			return errBail
		}
		p.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			if errors.Is(err, errBail) {
				return
			}
			ep.writeResponse(ctx, w, response{
				Code: http.StatusOK,
				Message: fmt.Sprintf(
					"%s called %s and failed: %v", ep.ServiceName, svc+path, err),
			})
		}
	}
	p.ServeHTTP(w, r)
}

var errBail = errors.New("bail")

// echoHandler returns the received request headers or fails with an error.
// The method will take at least as long as the set latency. Errors will occur
// with the set percentage.
func (ep *Endpoints) echoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// retrieve our behavioral config
	ep.mtx.RLock()
	d := ep.duration
	e := ep.errors
	ep.mtx.RUnlock()

	// inject configured latency
	time.Sleep(d)

	if rand.Int31n(100) < e {
		// return error response...
		ep.writeResponse(ctx, w, response{
			Code:  http.StatusInternalServerError,
			Error: errInternal,
		})
		return
	}

	// emulate successful response, sending request headers received
	ep.writeResponse(ctx, w, response{
		Code:    http.StatusOK,
		Headers: r.Header,
	})
}
