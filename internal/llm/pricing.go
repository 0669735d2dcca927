package llm

import "strings"

// ModelRate is the USD price per 1K input/output tokens.
type ModelRate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// defaultRate applies to models missing from the table.
var defaultRate = ModelRate{InputPer1K: 0.0015, OutputPer1K: 0.002}

var modelRates = map[string]ModelRate{
	"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4":         {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"o3-mini":       {InputPer1K: 0.0011, OutputPer1K: 0.0044},
}

// Rate returns the price entry for a model, falling back to the default.
func Rate(model string) ModelRate {
	if rate, ok := modelRates[strings.ToLower(strings.TrimSpace(model))]; ok {
		return rate
	}
	return defaultRate
}

// Cost estimates the monetary cost of one call in USD.
func Cost(model string, usage Usage) float64 {
	rate := Rate(model)
	return float64(usage.InputTokens)/1000*rate.InputPer1K + float64(usage.OutputTokens)/1000*rate.OutputPer1K
}
