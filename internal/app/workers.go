package app

import (
	"context"
	"fmt"
	"time"
)

// startWorkers runs the periodic billing jobs until ctx is canceled. Shutdown
// waits for them through app.wg.
func (app *Application) startWorkers(ctx context.Context) {
	app.every(ctx, "subscription-sweep", app.config.Billing.SweepInterval, func(ctx context.Context) error {
		result, err := app.billing.SweepSubscriptions(ctx)
		if err != nil {
			return err
		}

		if result.Synced > 0 || result.Failed > 0 {
			app.logger.Info("subscription sweep finished", "synced", result.Synced, "failed", result.Failed)
		}

		return nil
	})

	app.every(ctx, "commission-maturity", app.config.Billing.MaturityInterval, func(ctx context.Context) error {
		confirmed, err := app.billing.ConfirmMatured(ctx)
		if err != nil {
			return err
		}

		if confirmed > 0 {
			app.logger.Info("commissions confirmed", "count", confirmed)
		}

		return nil
	})
}

func (app *Application) every(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	if interval <= 0 {
		app.logger.Info("background job disabled", "job", name)
		return
	}

	app.wg.Add(1)

	go func() {
		defer app.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.runJob(ctx, name, job)
			}
		}
	}()
}

func (app *Application) runJob(ctx context.Context, name string, job func(context.Context) error) {
	defer func() {
		if err := recover(); err != nil {
			app.logger.Error("panic in background job", "job", name, "panic", fmt.Sprint(err))
		}
	}()

	err := job(ctx)
	if err != nil && ctx.Err() == nil {
		app.logger.Error("background job failed", "job", name, "error", err)
	}
}
