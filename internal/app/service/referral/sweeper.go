package referral

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/config"
)

// Sweeper runs RunSweep on a fixed interval for the life of the process.
type Sweeper struct {
	svc      *Service
	log      *zap.SugaredLogger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(cfg *config.Config, svc *Service, log *zap.SugaredLogger) *Sweeper {
	interval := cfg.Referral.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{svc: svc, log: log, interval: interval}
}

func (w *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()
	w.log.Infow("referral_sweeper_started", "interval", w.interval.String())
}

func (w *Sweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Sweeper) runOnce(ctx context.Context) {
	res, err := w.svc.RunSweep(ctx)
	if err != nil {
		w.log.Errorw("referral_sweep_failed", "error", err.Error())
		return
	}
	w.log.Infow("referral_sweep_done",
		"deactivated_referrals", res.DeactivatedReferrals,
		"expired_bonuses", res.ExpiredBonuses)
}

func registerSweeper(lc fx.Lifecycle, w *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
}

// Module exposes the referral service and its background sweeper via Fx.
var Module = fx.Options(
	fx.Provide(NewService, NewSweeper),
	fx.Invoke(registerSweeper),
)
