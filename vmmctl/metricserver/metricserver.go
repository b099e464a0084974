// Copyright 2026 The vmmkit Authors.
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

// Package metricserver serves the metrics of a running instance over HTTP in
// the Prometheus exposition format.
package metricserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"vmmkit.dev/vmmkit/pkg/log"
)

// httpTimeout is the timeout used for all connect/read/write operations of the HTTP server.
const httpTimeout = 1 * time.Minute

// httpResult is returned by HTTP handlers.
type httpResult struct {
	code int
	err  error
}

// httpOK is the "everything went fine" HTTP result.
var httpOK = httpResult{code: http.StatusOK}

// Server serves one instance's metrics.
type Server struct {
	name    string
	metrics http.Handler
	srv     *http.Server
	lis     net.Listener
}

// New returns a server for the metrics in reg. It listens on addr once
// Start is called.
func New(name string, reg *prometheus.Registry) *Server {
	s := &Server{
		name: name,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", logRequest(s.serveMetrics))
	mux.HandleFunc("/", logRequest(s.serveIndex))
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  httpTimeout,
		WriteTimeout: httpTimeout,
		IdleTimeout:  httpTimeout,
	}
	return s
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %q: %w", addr, err)
	}
	s.lis = lis
	log.Infof("Serving metrics of %q on http://%s/metrics", s.name, lis.Addr())
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warningf("Metric server of %q failed: %v", s.name, err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on. It is nil before Start.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// serveMetrics serves the metrics page.
func (s *Server) serveMetrics(w http.ResponseWriter, req *http.Request) httpResult {
	s.metrics.ServeHTTP(w, req)
	return httpOK
}

// serveIndex serves the index page.
func (s *Server) serveIndex(w http.ResponseWriter, req *http.Request) httpResult {
	if req.URL.Path != "/" {
		if strings.HasPrefix(req.URL.Path, "/metrics?") {
			// Prometheus's scrape_config.metrics_path %-encodes the "?"
			// character. Undo this so that "/metrics%3Ffoo=bar" is
			// "/metrics?foo=bar".
			req.URL.RawQuery = strings.TrimPrefix(req.URL.Path, "/metrics?")
			req.URL.Path = "/metrics"
			return s.serveMetrics(w, req)
		}
		return httpResult{http.StatusNotFound, errors.New("path not found")}
	}
	fmt.Fprintf(w, "<html><head><title>%s metrics</title></head><body>", s.name)
	fmt.Fprintf(w, "<p>You have reached the metrics page of instance %q.</p>", s.name)
	fmt.Fprintf(w, `<p>To see actual metric data, head over to <a href="/metrics">/metrics</a>.</p>`)
	fmt.Fprintf(w, "</body></html>")
	return httpOK
}

// logRequest wraps an HTTP handler and adds logging to it.
func logRequest(f func(w http.ResponseWriter, req *http.Request) httpResult) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		log.Debugf("Request: %s %s", req.Method, req.URL.Path)
		defer func() {
			if r := recover(); r != nil {
				log.Warningf("Request: %s %s: Panic:\n%v", req.Method, req.URL.Path, r)
			}
		}()
		result := f(w, req)
		if result.err != nil {
			http.Error(w, result.err.Error(), result.code)
			log.Warningf("Request: %s %s: Failed with HTTP code %d: %v", req.Method, req.URL.Path, result.code, result.err)
		}
	}
}
