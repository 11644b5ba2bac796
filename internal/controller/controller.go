// Package controller owns the lifecycle of the two long-running loops.
//
// The batch scheduler and the live correlator never call each other; the
// state store is their only coupling. The controller just starts both and
// tears the process down when either one stops.
package controller

import (
	"context"
	"log/slog"
)

// Runner is one long-running loop. Run blocks until ctx is done or the loop
// fails unrecoverably.
type Runner interface {
	Run(ctx context.Context) error
}

// Controller runs the batch scheduler and the live correlator side by side.
type Controller struct {
	batch  Runner
	live   Runner
	logger *slog.Logger
}

// New returns a Controller over the two loops.
func New(batch, live Runner, logger *slog.Logger) *Controller {
	return &Controller{batch: batch, live: live, logger: logger}
}

// Run starts both loops and blocks until one of them returns, then cancels
// and waits for the other. The first loop's error is the result.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() {
		c.logger.Info("batch scheduler starting")
		errc <- c.batch.Run(ctx)
	}()
	go func() {
		c.logger.Info("live correlator starting")
		errc <- c.live.Run(ctx)
	}()

	err := <-errc
	cancel()
	<-errc
	return err
}
