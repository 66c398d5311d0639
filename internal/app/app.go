package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/reconcile"
	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/scheduler"
	livehttp "quorum/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与定时决策。
type App struct {
	cfg          *config.Config
	orchestrator *engine.Orchestrator
	reconciler   *reconcile.Reconciler
	http         *livehttp.Server
	closers      []closer
	Summary      *StartupSummary
}

type closer struct {
	name string
	fn   func() error
}

// NewApp 根据配置构建应用对象（不启动）。path 为配置文件路径，每轮开始时重新读取；为空时固定使用 cfg。
func NewApp(cfg *config.Config, path string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, path)
}

// Run 启动 HTTP 服务与定时决策，直到 ctx 取消或任一服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.orchestrator == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Cycle.Scheduled {
		group.Go(func() error {
			return a.runScheduled(ctx)
		})
	}
	return group.Wait()
}

// RunOnce 同步执行一轮决策，用于命令行单次运行。
func (a *App) RunOnce(ctx context.Context) (engine.Report, error) {
	if a == nil || a.orchestrator == nil {
		return engine.Report{}, fmt.Errorf("app not initialized")
	}
	defer a.Close()
	return a.orchestrator.RunOnce(ctx, "once")
}

// Close 等待后台复盘结束并关闭存储；可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.reconciler != nil {
		a.reconciler.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			logger.Warnf("close %s failed: %v", c.name, err)
		}
	}
	a.closers = nil
}

func (a *App) runScheduled(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(a.cfg.Cycle.Interval)
	if !ok {
		return fmt.Errorf("invalid cycle.interval %q", a.cfg.Cycle.Interval)
	}
	sched := scheduler.NewAlignedScheduler("cycle", interval, time.Duration(a.cfg.Cycle.OffsetSeconds)*time.Second)
	sched.RunImmediately = a.cfg.Cycle.RunImmediately
	runner := newScheduledCycles(a.orchestrator, a.cfg.Cycle)
	err := sched.Run(ctx, runner.tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
