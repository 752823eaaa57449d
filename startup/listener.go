package startup

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// based on gist found at https://gist.github.com/pteich/c0bb58b0b7c8af7cc6a689dd0d3d26ef?permalink_comment_id=4053701

const defaultGracePeriod = 5 * time.Second

// Listener is an interface that describes any long running task - HTTP
// Server or counter janitor.
type Listener interface {
	Listen() error
	Shutdown(context.Context) error
}

// Listeners contains all servers that comply with the service.
type Listeners struct {
	name        string
	log         Logger
	listeners   []Listener
	gracePeriod time.Duration
}

type ListenersOption func(*Listeners)

func WithListener(h Listener) ListenersOption {
	return func(l *Listeners) {
		if h != nil {
			l.listeners = append(l.listeners, h)
		}
	}
}

func WithListeners(h []Listener) ListenersOption {
	return func(l *Listeners) {
		for i := 0; i < len(h); i++ {
			if h[i] != nil {
				l.listeners = append(l.listeners, h[i])
			}
		}
	}
}

// WithGracePeriod bounds how long each listener is given to shut down.
func WithGracePeriod(d time.Duration) ListenersOption {
	return func(l *Listeners) {
		l.gracePeriod = d
	}
}

func NewListeners(log Logger, name string, opts ...ListenersOption) Listeners {
	l := Listeners{log: log, name: strings.ToLower(name), gracePeriod: defaultGracePeriod}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func (l *Listeners) String() string {
	return l.name
}

// Listen runs every listener until SIGINT or SIGTERM, or until one of them
// fails, and then shuts them all down.
func (l *Listeners) Listen() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return l.ListenContext(ctx)
}

// ListenContext is Listen with cancellation by ctx instead of signals.
func (l *Listeners) ListenContext(ctx context.Context) error {
	g, errCtx := errgroup.WithContext(ctx)

	for _, h := range l.listeners {
		h := h
		g.Go(func() error {
			return h.Listen()
		})
	}

	g.Go(func() error {
		<-errCtx.Done()
		l.log.Infof("Cancel from signal")
		return l.Shutdown()
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (l *Listeners) Shutdown() error {
	var err error
	for _, h := range l.listeners {
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.gracePeriod)
			defer cancel()
			e := h.Shutdown(ctx)
			if e != nil {
				if err != nil {
					err = fmt.Errorf("Cannot shutdown %s: %w: %w", h, err, e)
				} else {
					err = fmt.Errorf("Cannot shutdown %s: %w", h, e)
				}
			}
		}()
	}
	return err
}
