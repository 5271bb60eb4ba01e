package ai

import (
	"github.com/pkoukk/tiktoken-go"
)

// estimateTokens is the fallback when a provider response carries no usage
// block: count prompt tokens locally so cost accounting never reads zero.
func estimateTokens(model, text string) int64 {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Rough bytes-per-token heuristic as a last resort.
			return int64(len(text) / 4)
		}
	}
	return int64(len(enc.Encode(text, nil, nil)))
}

// costMicros converts reported token counts into spend using per-token
// micro-unit prices from config.
func costMicros(inputTokens, outputTokens, inPriceMicros, outPriceMicros int64) int64 {
	return inputTokens*inPriceMicros + outputTokens*outPriceMicros
}
