package symbol

import "strings"

type GateConverter struct{}

// ToExchange 把 "BTC/USDT" 转为 Gate 合约名 "BTC_USDT"。
func (GateConverter) ToExchange(internal string) string {
	if sym := Parse(internal); sym.Base != "" {
		return sym.Base + "_" + sym.Quote
	}
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(internal)), "/", "_")
}

func (GateConverter) FromExchange(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if base, quote, ok := strings.Cut(s, "_"); ok {
		return Symbol{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}.Internal()
	}
	return Parse(s).Internal()
}

var Gate = GateConverter{}
