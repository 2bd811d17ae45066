// Copyright 2023 LiveKit, Inc.
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
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/config"
)

const maxRequestBytes = 1 << 20

type QualityServer struct {
	config     *config.Config
	handler    *ActionHandler
	httpServer *http.Server
	promServer *http.Server
	running    atomic.Bool
	doneChan   chan struct{}
	closedChan chan struct{}
}

func NewQualityServer(conf *config.Config, handler *ActionHandler) *QualityServer {
	s := &QualityServer{
		config:  conf,
		handler: handler,
	}

	middlewares := []negroni.Handler{
		// always first
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/quality", s.serveAction)
	mux.HandleFunc("/healthz", s.healthCheck)

	s.httpServer = &http.Server{
		Handler:           configureMiddlewares(mux, middlewares...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

func (s *QualityServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *QualityServer) IsRunning() bool {
	return s.running.Load()
}

// Start serves until Stop is called.
func (s *QualityServer) Start() error {
	if s.running.Load() {
		return errors.New("already running")
	}

	addresses := s.config.BindAddresses
	if len(addresses) == 0 {
		addresses = []string{""}
	}

	// ensure we could listen
	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, fmt.Sprint(s.config.Port)))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	s.doneChan = make(chan struct{})
	s.closedChan = make(chan struct{})
	defer close(s.closedChan)

	for _, ln := range listeners {
		logger.Infow("starting quality server", "address", ln.Addr().String())
		go func(ln net.Listener) {
			if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Errorw("could not serve", err, "address", ln.Addr().String())
			}
		}(ln)
	}

	if s.promServer != nil {
		go func() {
			logger.Infow("starting prometheus server", "address", s.promServer.Addr)
			if err := s.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("could not serve prometheus", err)
			}
		}()
	}

	s.running.Store(true)
	<-s.doneChan

	// wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return s.httpServer.Shutdown(ctx) })
	if s.promServer != nil {
		g.Go(func() error { return s.promServer.Shutdown(ctx) })
	}
	return g.Wait()
}

func (s *QualityServer) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.doneChan)
	<-s.closedChan
}

func (s *QualityServer) serveAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "could not read request", http.StatusBadRequest)
		return
	}

	res := s.handler.Invoke(r.Context(), payload)
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.StatusCode)
	_, _ = io.WriteString(w, res.Body)
}

func (s *QualityServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
