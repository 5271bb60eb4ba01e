package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/ports/adapter"
	"document-ai-indexing/internal/infra/metrics"
)

var _ adapter.PageAnalyzer = (*GeminiAnalyzer)(nil)

// GeminiAnalyzer implements page analysis using the official Gemini SDK.
type GeminiAnalyzer struct {
	client       *genai.Client
	defaultModel string
	callTimeout  time.Duration
	inPriceMic   int64
	outPriceMic  int64
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, baseURL, defaultModel string, callTimeout time.Duration, inPriceMicros, outPriceMicros int64) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAnalyzer{
		client:       c,
		defaultModel: defaultModel,
		callTimeout:  callTimeout,
		inPriceMic:   inPriceMicros,
		outPriceMic:  outPriceMicros,
	}, nil
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, req adapter.AnalyzeRequest) (*adapter.AnalyzeResult, error) {
	model := modelOrDefault(req.Model, g.defaultModel)

	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	prompt := extractionPrompt(req.PageNumber, req.DocumentName, req.Instructions)
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: req.Image}},
			{Text: prompt},
		},
	}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	latencyMs := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveAnalyzeUsage("gemini", model, 0, 0, 0, latencyMs, false)
		return nil, fmt.Errorf("gemini analyze page %d: %w", req.PageNumber, err)
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		if t := resp.Candidates[0].Content.Parts[0].Text; t != "" {
			text = t
		}
	}
	if text == "" {
		metrics.ObserveAnalyzeUsage("gemini", model, 0, 0, 0, latencyMs, false)
		return nil, domain.ErrEmptyModelResponse
	}

	payload, err := validateAnalysisPayload(text)
	if err != nil {
		metrics.ObserveAnalyzeUsage("gemini", model, 0, 0, 0, latencyMs, false)
		return nil, err
	}

	var inTok, outTok int64
	if resp.UsageMetadata != nil {
		inTok = int64(resp.UsageMetadata.PromptTokenCount)
		outTok = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if inTok == 0 {
		inTok = estimateTokens(model, prompt)
	}
	if outTok == 0 {
		outTok = estimateTokens(model, text)
	}
	cost := costMicros(inTok, outTok, g.inPriceMic, g.outPriceMic)
	metrics.ObserveAnalyzeUsage("gemini", model, inTok, outTok, cost, latencyMs, true)

	return &adapter.AnalyzeResult{
		Payload:      payload,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostMicros:   cost,
	}, nil
}

func modelOrDefault(model, def string) string {
	if model != "" {
		return model
	}
	return def
}
