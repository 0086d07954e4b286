// Copyright 2023 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/binkynet/SpindleWorker/pkg/service/devices"
	"github.com/binkynet/SpindleWorker/pkg/service/spindles"
	"github.com/binkynet/SpindleWorker/pkg/ui"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	HTTPPort int
	// Port to listen on for SSH requests
	SSHPort int
	// Path of the SSH host key, created when it does not exist
	SSHHostKeyPath string
}

// Server runs the HTTP server for the service.
type Server struct {
	Config
	log     zerolog.Logger
	service Service
}

// Service gives access to the running worker.
type Service interface {
	// GetSpindleService returns nil while the spindles are not available.
	GetSpindleService() spindles.Service
	// GetDeviceService returns nil while the devices are not available.
	GetDeviceService() devices.Service
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, service Service) (*Server, error) {
	if cfg.SSHHostKeyPath == "" {
		cfg.SSHHostKeyPath = ".ssh/id_ed25519"
	}
	return &Server{
		Config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		service: service,
	}, nil
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	// Prepare HTTP listener
	log := s.log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", httpAddr, err)
	}

	// Prepare HTTP server
	httpSrv := http.Server{
		Handler: s.newRouter(),
	}

	// Prepare SSH server
	sshAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.SSHPort))
	sshServer, err := wish.NewServer(
		// The address the server will listen to.
		wish.WithAddress(sshAddr),

		// The SSH server need its own keys, this will create a keypair in the
		// given path if it doesn't exist yet.
		// By default, it will create an ED25519 key.
		wish.WithHostKeyPath(s.SSHHostKeyPath),

		// Middlewares do something on a ssh.Session, and then call the next
		// middleware in the stack.
		wish.WithMiddleware(
			bubbletea.Middleware(s.teaHandler),
			// The last item in the chain is the first to be called.
			activeterm.Middleware(),
			logging.Middleware(),
		),
	)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("could not start SSH server: %w", err)
	}

	// Serve apis
	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to serve HTTP server")
		}
		log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
	}()
	// Serve UI
	log.Debug().Str("address", sshAddr).Msg("Serving SSH")
	go func() {
		if err := sshServer.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			log.Error().Err(err).Msg("failed to serve SSH server")
		}
		log.Debug().Str("address", sshAddr).Msg("Done Serving SSH")
	}()

	// Wait until context closed
	<-ctx.Done()

	log.Info().Msg("Closing servers")
	httpSrv.Shutdown(context.Background())
	sshServer.Shutdown(context.Background())

	return nil
}

// newRouter builds the HTTP routes.
func (s *Server) newRouter() *echo.Echo {
	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.GET("/health", echo.WrapHandler(http.HandlerFunc(healthHandler)))
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))

	api := httpRouter.Group("/api")
	api.GET("/spindles", s.handleListSpindles)
	api.GET("/spindles/:name", s.handleGetSpindle)
	api.PUT("/spindles/:name/state", s.handleSetState)
	api.PUT("/spindles/:name/power", s.handleSetPower)
	api.GET("/abort", s.handleGetAbort)
	api.POST("/abort", s.handleAbort)
	api.DELETE("/abort", s.handleResetAbort)
	api.GET("/override", s.handleGetOverride)
	api.PUT("/override", s.handleSetOverride)
	api.GET("/devices", s.handleListDevices)
	return httpRouter
}

// teaHandler creates the UI model for an SSH session.
func (s *Server) teaHandler(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
	return ui.NewRoot(s.controller), []tea.ProgramOption{tea.WithAltScreen()}
}

// controller returns the spindle service as UI controller.
func (s *Server) controller() ui.Controller {
	if svc := s.service.GetSpindleService(); svc != nil {
		return svc
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "OK")
}
