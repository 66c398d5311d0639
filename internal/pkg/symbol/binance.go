package symbol

import "strings"

type BinanceConverter struct{}

// ToExchange 把 "BTC/USDT" 转为 "BTCUSDT"。
func (BinanceConverter) ToExchange(internal string) string {
	if sym := Parse(internal); sym.Base != "" {
		return sym.Binance()
	}
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(internal)), "/", "")
}

func (BinanceConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

var Binance = BinanceConverter{}
