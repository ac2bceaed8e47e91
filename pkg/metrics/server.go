/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics on its own listener, independent of the
// admission HTTP server, so scraping never competes with request traffic.
type Server struct {
	server *http.Server
	log    logr.Logger
}

// NewServer builds a metrics server listening on ":"+port.
func NewServer(port string, log logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts serving in a background goroutine. Any error other
// than the expected shutdown error is logged, not returned, matching the
// fire-and-forget lifecycle callers expect from a sidecar metrics server.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "metrics: server exited unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, waiting for in-flight scrapes to
// finish or ctx to expire, whichever comes first.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
