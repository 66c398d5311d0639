package scheduler

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/logger"
)

// AlignedScheduler 在 K 线收盘边界加偏移后执行任务，例如每小时收盘后 30 秒。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn   func() time.Time
	afterFn func(time.Duration) <-chan time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		afterFn:  time.After,
	}
}

// Run 阻塞执行，直到 ctx 结束；任务串行执行，耗时超过一个周期时跳到下一个边界。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if s == nil || task == nil {
		return fmt.Errorf("scheduler task is nil")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("invalid scheduler interval %s", s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", s.prefix(), s.Offset)
		s.Offset = 0
	}
	if s.Offset >= s.Interval {
		s.Offset %= s.Interval
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.afterFn == nil {
		s.afterFn = time.After
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s offset=%s run_immediately=%v at=%s",
		s.prefix(), s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task(ctx)
	}

	for {
		if ctx.Err() != nil {
			logger.Infof("%s: ctx done, exit", s.prefix())
			return ctx.Err()
		}
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)
		logger.Infof("%s: 距离K线收盘=%s (收盘=%s) 下一次执行=%s | uptime=%s",
			s.prefix(),
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)
		select {
		case <-ctx.Done():
			logger.Infof("%s: ctx done, exit", s.prefix())
			return ctx.Err()
		case <-s.afterFn(wait):
		}
		task(ctx)
	}
}

// nextTimes 返回下一个收盘时间与唤醒时间。偏移内的当前周期仍会被执行。
func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	lastClose := now.Truncate(s.Interval)
	if pending := lastClose.Add(s.Offset); pending.After(now) {
		return lastClose, pending, pending.Sub(now)
	}
	nextClose = lastClose.Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	return nextClose, wakeAt, wakeAt.Sub(now)
}

func (s *AlignedScheduler) prefix() string {
	if s.Name == "" {
		return "AlignedScheduler"
	}
	return "AlignedScheduler[" + s.Name + "]"
}
