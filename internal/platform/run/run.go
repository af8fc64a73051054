package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ShutdownTimeout bounds the whole graceful shutdown sequence.
const ShutdownTimeout = 10 * time.Second

type Runner struct {
	Logger *zap.Logger
}

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Logger: log}
}

// Step is one named teardown action, run in registration order.
type Step struct {
	Name string
	Fn   func(context.Context) error
}

// WithSignals runs every start function concurrently and blocks until a
// SIGINT/SIGTERM arrives or one of them returns. The result is the process
// exit code.
func (r *Runner) WithSignals(starts ...func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(starts))
	for _, start := range starts {
		go func() {
			errCh <- start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		return 0
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
			return 0
		}
		r.Logger.Error("service exited with error", zap.Error(err))
		return 1
	}
}

// Graceful runs the steps under one shared timeout. A failing step is
// logged and the remaining steps still run.
func (r *Runner) Graceful(steps ...Step) {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	for _, s := range steps {
		if err := s.Fn(ctx); err != nil {
			r.Logger.Warn("shutdown step failed", zap.String("step", s.Name), zap.Error(err))
			continue
		}
		r.Logger.Debug("shutdown step done", zap.String("step", s.Name))
	}
}

// Closer adapts a plain Close() method to a Step.
func Closer(name string, fn func()) Step {
	return Step{Name: name, Fn: func(context.Context) error { fn(); return nil }}
}

func Exit(code int) {
	os.Exit(code)
}
