package analyst

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quorum/internal/market"
	"quorum/internal/pkg/format"
	"quorum/internal/pkg/text"
)

const recentCloses = 12

func renderMacro(in MacroInput) string {
	var b strings.Builder
	b.WriteString("# Benchmarks\n")
	if len(in.Benchmarks) == 0 {
		b.WriteString("(no benchmark data)\n")
	}
	for _, s := range in.Benchmarks {
		writeSeries(&b, s)
	}
	writeFearGreed(&b, in.FearGreed)
	if len(in.Headlines) > 0 {
		b.WriteString("\n# Headlines\n")
		for _, h := range in.Headlines {
			b.WriteString("- " + text.Truncate(h, 160) + "\n")
		}
	}
	return b.String()
}

func renderSentiment(in SentimentInput) string {
	var b strings.Builder
	writeFearGreed(&b, in.FearGreed)
	if len(in.Derivatives) > 0 {
		b.WriteString("\n# Derivatives\n")
		for _, d := range in.Derivatives {
			b.WriteString("- " + d.Line() + "\n")
		}
	}
	b.WriteString("\n# News\n")
	if len(in.News) == 0 {
		b.WriteString("(news feed unavailable, rely on the index)\n")
	}
	for i, n := range in.News {
		ts := "-"
		if !n.PublishedAt.IsZero() {
			ts = n.PublishedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, ts, text.Squash(n.Title), n.Source)
		if body := text.Squash(n.Body); body != "" {
			b.WriteString("   " + body + "\n")
		}
	}
	return b.String()
}

func renderTechnical(in TechnicalInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Batch %d (%d symbols)\n", in.Batch, len(in.Series))
	for _, s := range in.Series {
		writeSeries(&b, s)
	}
	return b.String()
}

func renderRisk(in RiskInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Batch %d symbols\n%s\n", in.Batch, strings.Join(in.Symbols, ", "))
	fmt.Fprintf(&b, "\n# Limits\nmin_confidence=%s max_position_pct=%s\n",
		format.Float(in.MinConfidence, 2), format.Float(in.MaxPositionPct, 4))
	fmt.Fprintf(&b, "\n# Macro\nregime_score=%s regime=%s\n%s\n",
		format.Float(in.Macro.RegimeScore, 1), in.Macro.Regime, in.Macro.Summary)
	fmt.Fprintf(&b, "\n# Sentiment\nscore=%s label=%s\n%s\n",
		format.Float(in.Sentiment.Score, 1), in.Sentiment.Label, in.Sentiment.Summary)
	b.WriteString("\n# Technical assessments\n")
	b.WriteString(compactJSON(in.Technical.Assessments))
	b.WriteString("\n")
	return b.String()
}

func renderAllocation(in AllocationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Capital\nbalance=%s equity=%s deployable=%s\n",
		format.USD(in.Balance), format.USD(in.Equity), format.USD(in.Deployable))
	fmt.Fprintf(&b, "per_position_cap=%s min_trade_usd=%s\n",
		format.USD(in.MaxPositionPct*in.Equity), format.USD(in.MinTradeUSD))
	fmt.Fprintf(&b, "\n# Context\nmacro=%s (%s) sentiment=%s (%s)\n",
		format.Float(in.Macro.RegimeScore, 1), in.Macro.Regime,
		format.Float(in.Sentiment.Score, 1), in.Sentiment.Label)
	b.WriteString("\n# Buy signals\n")
	b.WriteString(compactJSON(in.Signals))
	b.WriteString("\n\n# Open positions\n")
	if len(in.Positions) == 0 {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(compactJSON(in.Positions))
		b.WriteString("\n")
	}
	return b.String()
}

func renderReview(in ReviewInput) string {
	var b strings.Builder
	p := in.Position
	fmt.Fprintf(&b, "# Position\n%s %s qty=%s entry=%s\n", p.Symbol, p.Side,
		format.Float(p.Quantity, 8), format.Float(p.EntryPrice, 6))
	fmt.Fprintf(&b, "current_price=%s\n", format.Float(in.Price, 6))
	fmt.Fprintf(&b, "\n# Macro\nregime_score=%s regime=%s\n%s\n",
		format.Float(in.Macro.RegimeScore, 1), in.Macro.Regime, in.Macro.Summary)
	fmt.Fprintf(&b, "\n# Sentiment\nscore=%s label=%s\n%s\n",
		format.Float(in.Sentiment.Score, 1), in.Sentiment.Label, in.Sentiment.Summary)
	return b.String()
}

func writeSeries(b *strings.Builder, s SymbolSeries) {
	fmt.Fprintf(b, "## %s %s\n", s.Symbol, s.Interval)
	if s.Digest.Count > 0 {
		b.WriteString(s.Digest.Line() + "\n")
	}
	candles := market.Candles(s.Candles)
	if summary := candles.Summary(s.Interval); summary != "" {
		b.WriteString(summary + "\n")
	}
	closes := candles.Closes()
	if len(closes) > recentCloses {
		closes = closes[len(closes)-recentCloses:]
	}
	if len(closes) > 0 {
		parts := make([]string, len(closes))
		for i, c := range closes {
			parts[i] = format.Float(c, 6)
		}
		b.WriteString("recent closes: " + strings.Join(parts, " ") + "\n")
	}
}

func writeFearGreed(b *strings.Builder, fg *market.FearGreedReading) {
	b.WriteString("\n# Fear & Greed\n")
	if fg == nil {
		b.WriteString("(unavailable)\n")
		return
	}
	fmt.Fprintf(b, "value=%d classification=%s\n", fg.Value, fg.Classification)
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
