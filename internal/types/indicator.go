package types

// IndicatorType names a calculator.
type IndicatorType string

const (
	IndicatorTypeEMA IndicatorType = "ema"
	IndicatorTypeMA  IndicatorType = "ma"
	IndicatorTypeRSI IndicatorType = "rsi"
	IndicatorTypeATR IndicatorType = "atr"
	// IndicatorTypeCVD is cumulative volume delta.
	IndicatorTypeCVD IndicatorType = "cvd"
)
