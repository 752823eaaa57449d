// Package httpserver provides an http server that has an inbuilt logger,
// name and complies with the Listener interface in startup.Listeners.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Server struct {
	http.Server
	log  Logger
	name string
}

type Option func(*Server)

// WithHandler wraps the handler, eg with tracing.HTTPMiddleware. Applied in
// order so the last option is outermost.
func WithHandler(wrap func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.Handler = wrap(s.Handler)
	}
}

func New(log Logger, name string, port string, handler http.Handler, opts ...Option) *Server {
	log.Debugf("New HTTPServer %s", name)
	m := Server{
		Server: http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		name: strings.ToLower(name),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.log = log.WithIndex("httpserver", m.String())
	// It is preferable to return a copy rather than a reference. Unfortunately http.Server has an
	// internal mutex and this cannot or should not be copied so we will return a reference instead.
	return &m
}

func (m *Server) String() string {
	// No logging here please
	return fmt.Sprintf("%s%s", m.name, m.Addr)
}

// Listen serves until Shutdown, after which it returns nil.
func (m *Server) Listen() error {
	m.log.Infof("Listen")
	err := m.Server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server terminated: %w", m, err)
	}
	return nil
}

func (m *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	m.log.Infof("Shutdown")
	err := m.Server.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
