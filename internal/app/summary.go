package app

import (
	"fmt"
	"sort"
	"strings"

	"quorum/internal/config"
)

// StartupSummary 是启动时打印的配置摘要。
type StartupSummary struct {
	HTTPAddr  string
	Cycle     CycleSummary
	Risk      config.RiskConfig
	Market    MarketSummary
	Models    map[string]string
	Prompts   map[string]int
	PromptSrc string
	Notify    bool
}

type CycleSummary struct {
	Scheduled        bool
	Interval         string
	OffsetSeconds    int
	RunImmediately   bool
	SymbolsToAnalyze int
	BatchSize        int
	MinimumBalance   float64
	MacroThreshold   float64
}

type MarketSummary struct {
	Exchange       string
	QuoteAsset     string
	CandleInterval string
	CandleLimit    int
	Benchmarks     []string
	Exclude        []string
}

func buildSummary(cfg *config.Config, analysts *AnalystStack, notify bool) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr: cfg.App.HTTPAddr,
		Cycle: CycleSummary{
			Scheduled:        cfg.Cycle.Scheduled,
			Interval:         cfg.Cycle.Interval,
			OffsetSeconds:    cfg.Cycle.OffsetSeconds,
			RunImmediately:   cfg.Cycle.RunImmediately,
			SymbolsToAnalyze: cfg.Cycle.SymbolsToAnalyze,
			BatchSize:        cfg.Cycle.BatchSize,
			MinimumBalance:   cfg.Cycle.MinimumBalance,
			MacroThreshold:   cfg.Cycle.MacroScoreThreshold,
		},
		Risk: cfg.Risk,
		Market: MarketSummary{
			Exchange:       cfg.Market.Exchange,
			QuoteAsset:     cfg.Market.QuoteAsset,
			CandleInterval: cfg.Market.CandleInterval,
			CandleLimit:    cfg.Market.CandleLimit,
			Benchmarks:     cfg.Market.BenchmarkSymbols,
			Exclude:        cfg.Market.ExcludeSymbols,
		},
		Notify: notify,
	}
	if analysts != nil {
		s.Models = analysts.Bindings
		if analysts.Prompts != nil {
			snap := analysts.Prompts.Snapshot()
			s.PromptSrc = snap.Source
			s.Prompts = make(map[string]int, len(snap.Templates))
			for role, tpl := range snap.Templates {
				s.Prompts[role] = tpl.Version
			}
		}
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[决策周期 (CYCLE)]")
	if s.Cycle.Scheduled {
		fmt.Printf("  定时执行: 每 %s，收盘后 %ds（立即执行=%v）\n", s.Cycle.Interval, s.Cycle.OffsetSeconds, s.Cycle.RunImmediately)
	} else {
		fmt.Println("  定时执行: 关闭（仅 HTTP 触发）")
	}
	fmt.Printf("  分析币种: %d  批大小: %d\n", s.Cycle.SymbolsToAnalyze, s.Cycle.BatchSize)
	fmt.Printf("  最低余额: %.2f  宏观阈值: %.1f\n", s.Cycle.MinimumBalance, s.Cycle.MacroThreshold)
	fmt.Println()

	fmt.Println("[风控基线 (RISK)]")
	fmt.Printf("  单笔上限: %.1f%%  最低置信度: %.0f  最小金额: %.2f  现金保留: %.1f%%\n",
		s.Risk.MaxPositionPct*100, s.Risk.MinConfidence, s.Risk.MinTradeUSD, s.Risk.ReservePct*100)
	fmt.Println()

	fmt.Println("[行情 (MARKET)]")
	fmt.Printf("  交易所: %s\n", s.Market.Exchange)
	fmt.Printf("  计价币: %s  K线: %s x %d\n", s.Market.QuoteAsset, s.Market.CandleInterval, s.Market.CandleLimit)
	fmt.Printf("  基准: %s\n", formatList(s.Market.Benchmarks))
	fmt.Printf("  排除: %s\n", formatList(s.Market.Exclude))
	fmt.Println()

	fmt.Println("[模型与提示词 (MODELS & PROMPTS)]")
	for _, role := range sortedKeys(s.Models) {
		fmt.Printf("  > %-10s 模型=%s 提示词版本=v%d\n", role, s.Models[role], s.Prompts[role])
	}
	if s.PromptSrc != "" {
		fmt.Printf("  提示词来源: %s\n", s.PromptSrc)
	}
	fmt.Println()

	fmt.Printf("[服务] HTTP=%s  Telegram=%v\n", s.HTTPAddr, s.Notify)
	fmt.Println(strings.Repeat("=", 80))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
