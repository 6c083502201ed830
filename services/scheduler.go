// services/scheduler.go
package services

import (
	"context"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// SweepService runs the maintenance sweeps for every store with expirable
// state. RunSweeps is callable on its own so an operator endpoint or a test
// can trigger a deterministic pass at a chosen time.
type SweepService struct {
	appContext.DefaultService

	rateLimitSvc *RateLimitService
	lockoutSvc   *LockoutService
	jwtSvc       *JWTService
	batchSvc     *BatchService

	interval time.Duration
	closed   chan struct{}
}

const SWEEP_SVC = "sweep_svc"

func (svc SweepService) Id() string {
	return SWEEP_SVC
}

func (svc *SweepService) Configure(ctx *appContext.Context) error {
	svc.interval = envDuration("SWEEP_INTERVAL", 5*time.Minute)
	svc.closed = make(chan struct{})
	return svc.DefaultService.Configure(ctx)
}

func (svc *SweepService) Start() error {
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.lockoutSvc = svc.Service(LOCKOUT_SVC).(*LockoutService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.batchSvc = svc.Service(BATCH_SVC).(*BatchService)

	go svc.run()
	return nil
}

func (svc *SweepService) Shutdown() {
	close(svc.closed)
}

func (svc *SweepService) run() {
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.RunSweeps(context.Background(), time.Now())
		case <-svc.closed:
			return
		}
	}
}

// RunSweeps executes one pass over every sweepable store. Each target is
// independent: a failure in one is logged and the rest still run.
func (svc *SweepService) RunSweeps(ctx context.Context, now time.Time) map[string]int {
	results := map[string]int{}

	targets := []struct {
		name  string
		sweep func(context.Context, time.Time) (int, error)
	}{
		{"rate_windows", svc.rateLimitSvc.Sweep},
		{"login_attempts", svc.lockoutSvc.Sweep},
		{"revoked_tokens", svc.jwtSvc.Sweep},
		{"expired_leases", svc.batchSvc.SweepExpiredLeases},
	}

	for _, t := range targets {
		removed, err := t.sweep(ctx, now)
		if err != nil {
			log.WithError(err).WithField("target", t.name).Error("Sweep failed")
			continue
		}
		results[t.name] = removed
		sweepRemovedTotal.WithLabelValues(t.name).Add(float64(removed))
	}

	log.WithField("results", results).Debug("Sweep pass finished")
	return results
}
