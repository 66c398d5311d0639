package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/go-resty/resty/v2"
)

const (
	fearGreedErrorBackoff   = 2 * time.Minute
	fearGreedFallbackUpdate = 12 * time.Hour
)

// FearGreedReading 是 alternative.me 恐惧贪婪指数的一次读数。
type FearGreedReading struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// FearGreedService 缓存指数读数，按 time_until_update 决定下次刷新。
// 刷新失败时保留上一次成功的读数。
type FearGreedService struct {
	client *resty.Client
	url    string
	now    func() time.Time

	mu         sync.RWMutex
	reading    FearGreedReading
	ok         bool
	lastErr    string
	nextUpdate time.Time
	refreshMu  sync.Mutex
}

func NewFearGreedService(url string, timeout time.Duration) *FearGreedService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &FearGreedService{client: client, url: url, now: time.Now}
}

// Get 返回缓存的读数。
func (s *FearGreedService) Get() (FearGreedReading, bool) {
	if s == nil {
		return FearGreedReading{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading, s.ok
}

// Current 在缓存过期时刷新并返回最新读数。
func (s *FearGreedService) Current(ctx context.Context) (FearGreedReading, bool) {
	if s == nil {
		return FearGreedReading{}, false
	}
	s.RefreshIfStale(ctx)
	return s.Get()
}

func (s *FearGreedService) RefreshIfStale(ctx context.Context) {
	if s == nil {
		return
	}
	if !s.stale() {
		return
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if !s.stale() {
		return
	}
	if err := s.refresh(ctx); err != nil {
		logger.Warnf("Fear & Greed 刷新失败: %v", err)
	}
}

func (s *FearGreedService) stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextUpdate.IsZero() || !s.now().Before(s.nextUpdate)
}

type fearGreedResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
		TimeUntilUpdate     string `json:"time_until_update"`
	} `json:"data"`
	Metadata struct {
		Error any `json:"error"`
	} `json:"metadata"`
}

func (s *FearGreedService) refresh(ctx context.Context) error {
	var payload fearGreedResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&payload).Get(s.url)
	if err != nil {
		return s.fail(err)
	}
	if resp.IsError() {
		return s.fail(fmt.Errorf("unexpected status %s", resp.Status()))
	}
	if payload.Metadata.Error != nil {
		return s.fail(fmt.Errorf("api error: %v", payload.Metadata.Error))
	}
	if len(payload.Data) == 0 {
		return s.fail(fmt.Errorf("api data empty"))
	}
	item := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(item.Value))
	if err != nil {
		return s.fail(fmt.Errorf("invalid value %q", item.Value))
	}
	reading := FearGreedReading{
		Value:          value,
		Classification: strings.TrimSpace(item.ValueClassification),
	}
	if sec, err := strconv.ParseInt(strings.TrimSpace(item.Timestamp), 10, 64); err == nil {
		reading.Timestamp = time.Unix(sec, 0).UTC()
	}
	next := s.now().Add(fearGreedFallbackUpdate)
	if secs, err := strconv.ParseInt(strings.TrimSpace(item.TimeUntilUpdate), 10, 64); err == nil && secs > 0 {
		next = s.now().Add(time.Duration(secs) * time.Second)
	}
	s.mu.Lock()
	s.reading = reading
	s.ok = true
	s.lastErr = ""
	s.nextUpdate = next
	s.mu.Unlock()
	return nil
}

func (s *FearGreedService) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.nextUpdate = s.now().Add(fearGreedErrorBackoff)
	s.mu.Unlock()
	return err
}
