package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/ports/adapter"
	"document-ai-indexing/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PageAnalyzer = (*OpenAIAnalyzer)(nil)

// OpenAIAnalyzer implements page analysis against the OpenAI (or any
// OpenAI-compatible) Chat Completions API with image input.
type OpenAIAnalyzer struct {
	client       openai.Client
	defaultModel string
	callTimeout  time.Duration
	inPriceMic   int64
	outPriceMic  int64
}

func NewOpenAIAnalyzer(apiKey, baseURL, defaultModel string, callTimeout time.Duration, inPriceMicros, outPriceMicros int64) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAnalyzer{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
		callTimeout:  callTimeout,
		inPriceMic:   inPriceMicros,
		outPriceMic:  outPriceMicros,
	}, nil
}

func (o *OpenAIAnalyzer) Analyze(ctx context.Context, req adapter.AnalyzeRequest) (*adapter.AnalyzeResult, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	detail := req.DetailLevel
	if detail == "" {
		detail = "auto"
	}

	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	prompt := extractionPrompt(req.PageNumber, req.DocumentName, req.Instructions)
	dataURL := fmt.Sprintf("data:%s;base64,%s", req.MIMEType, base64.StdEncoding.EncodeToString(req.Image))

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    dataURL,
					Detail: detail,
				}),
			}),
		},
	})
	latencyMs := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveAnalyzeUsage("openai", model, 0, 0, 0, latencyMs, false)
		return nil, fmt.Errorf("openai analyze page %d: %w", req.PageNumber, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		metrics.ObserveAnalyzeUsage("openai", model, 0, 0, 0, latencyMs, false)
		return nil, domain.ErrEmptyModelResponse
	}

	payload, err := validateAnalysisPayload(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.ObserveAnalyzeUsage("openai", model, 0, 0, 0, latencyMs, false)
		return nil, err
	}

	inTok := resp.Usage.PromptTokens
	outTok := resp.Usage.CompletionTokens
	if inTok == 0 {
		inTok = estimateTokens(model, prompt)
	}
	if outTok == 0 {
		outTok = estimateTokens(model, resp.Choices[0].Message.Content)
	}
	cost := costMicros(inTok, outTok, o.inPriceMic, o.outPriceMic)
	metrics.ObserveAnalyzeUsage("openai", model, inTok, outTok, cost, latencyMs, true)

	return &adapter.AnalyzeResult{
		Payload:      payload,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostMicros:   cost,
	}, nil
}
