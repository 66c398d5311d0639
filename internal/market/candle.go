package market

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`

	// TakerBuyVolume 主动买入成交量，交易所不提供时为 0。
	TakerBuyVolume float64 `json:"taker_buy_volume,omitempty"`
}
