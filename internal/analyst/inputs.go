package analyst

import (
	"quorum/internal/analysis/indicator"
	"quorum/internal/market"
)

// SymbolSeries 是单个 symbol 的 K 线与指标摘要。
type SymbolSeries struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Candles  []market.Candle  `json:"-"`
	Digest   indicator.Digest `json:"digest"`
}

type MacroInput struct {
	Benchmarks []SymbolSeries
	FearGreed  *market.FearGreedReading
	Headlines  []string
}

type SentimentInput struct {
	News        []market.NewsItem
	FearGreed   *market.FearGreedReading
	Derivatives []market.DerivativesReading
}

type TechnicalInput struct {
	Batch  int
	Series []SymbolSeries
}

// RiskInput 包含一个批次的全部上下文以及本轮调整后的风控参数。
type RiskInput struct {
	Batch          int
	Symbols        []string
	Technical      TechnicalReport
	Macro          MacroResult
	Sentiment      SentimentResult
	MinConfidence  float64
	MaxPositionPct float64
}

type SignalBrief struct {
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

type PositionBrief struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

type AllocationInput struct {
	Signals        []SignalBrief
	Balance        float64
	Equity         float64
	Deployable     float64
	MaxPositionPct float64
	MinTradeUSD    float64
	Positions      []PositionBrief
	Macro          MacroResult
	Sentiment      SentimentResult
}

// ReviewInput 请求分析师对一笔持仓在给定价格下给出意见。
type ReviewInput struct {
	Position  PositionBrief
	Price     float64
	Macro     MacroResult
	Sentiment SentimentResult
}
