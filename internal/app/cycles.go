package app

import (
	"context"
	"errors"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"
)

const scheduleTrigger = "schedule"

type onceRunner interface {
	RunOnce(ctx context.Context, trigger string) (engine.Report, error)
}

// scheduledCycles 执行定时决策；连续失败达到阈值后熔断，冷却期内跳过。
type scheduledCycles struct {
	runner  onceRunner
	breaker *circuit.CircuitBreaker
}

func newScheduledCycles(runner onceRunner, cfg config.CycleConfig) *scheduledCycles {
	return &scheduledCycles{
		runner:  runner,
		breaker: circuit.NewCircuitBreaker("cycle", cfg.FailureThreshold, time.Duration(cfg.CooldownSeconds)*time.Second),
	}
}

func (s *scheduledCycles) tick(ctx context.Context) {
	if !s.breaker.Allow() {
		logger.Warnf("scheduled cycle skipped: circuit %s", s.breaker.State())
		return
	}
	report, err := s.runner.RunOnce(ctx, scheduleTrigger)
	switch {
	case errors.Is(err, engine.ErrCycleActive):
		logger.Infof("scheduled cycle skipped: another cycle is running")
	case ctx.Err() != nil:
		// 正在退出
	case err != nil:
		s.breaker.RecordFailure()
		logger.Errorf("scheduled cycle %s failed: %v", report.ID, err)
	default:
		s.breaker.RecordSuccess()
		logger.Infof("scheduled cycle %s done: signals=%d avoided=%d filled=%d", report.ID, len(report.Signals), report.Avoided, report.Filled())
	}
}
