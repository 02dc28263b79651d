package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	intrnl "roomrelay/internal"
)

// ServerHandle represents a running relay server instance.
type ServerHandle struct {
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown and waits for it, bounded by ctx.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.cancel()
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires the relay core, the retention sweeper, and the HTTP
// surface, then starts serving in the background. Cancelling ctx, or calling
// Stop, shuts everything down. Call Wait to observe the exit.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.WSPath = NormalizeWSPath(cfg.WSPath)

	logger, err := BuildLogger(cfg.LogEnv, cfg.LogDebug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	server, err := intrnl.NewServer(logger, intrnl.ServerOptions{
		EventLimit:  cfg.EventLimit,
		EventWindow: cfg.EventWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}
	sweeper := intrnl.NewSweeper(logger, server.History(), server.Rooms(),
		cfg.SweepInterval, cfg.RetentionWindow)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{Handler: server.Router(cfg.WSPath)}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return server.Relay().Run(gctx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		handle.err = g.Wait()
		_ = logger.Sync()
		close(handle.done)
	}()
	return handle, nil
}
