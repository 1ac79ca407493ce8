package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAISender talks to an OpenAI compatible chat completion endpoint in JSON mode.
type OpenAISender struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAISender(cfg OpenAIConfig, logger *zap.Logger) *OpenAISender {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISender{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (s *OpenAISender) Send(ctx context.Context, p *Payload) (*Response, error) {
	prompt, err := buildPrompt(p)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      s.maxTokens,
		Temperature:    float32(s.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		classified := Classify(err)
		s.logger.Warn("Chat completion failed",
			zap.String("operation", string(p.Operation)),
			zap.String("kind", classified.Kind.String()),
			zap.Error(err))
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindDecoding, "response has no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var out Response
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		s.logger.Error("Failed to parse chat completion",
			zap.Error(err),
			zap.String("response", content))
		return nil, &Error{Kind: KindDecoding, Message: "malformed response body", Err: err}
	}
	if p.Operation == OpGenerate && len(out.Messages) == 0 {
		return nil, NewError(KindDecoding, "response has no messages")
	}
	return &out, nil
}

const systemPrompt = `You write short, heartfelt personal messages for couples. Always answer with a single JSON object and nothing else.`

func buildPrompt(p *Payload) (string, error) {
	switch p.Operation {
	case OpGenerate:
		r := p.Request
		var b strings.Builder
		fmt.Fprintf(&b, "Write %d distinct %s messages with a %s tone for the %s.\n",
			r.MessageCount(), r.Category.Label(), r.Tone.Label(), r.TimeOfDay)
		if r.RecipientName != "" {
			fmt.Fprintf(&b, "Recipient name: %s\n", r.RecipientName)
		}
		if r.SpecialOccasion != "" {
			fmt.Fprintf(&b, "Special occasion: %s\n", r.SpecialOccasion)
		}
		if r.Context != "" {
			fmt.Fprintf(&b, "Context: %s\n", r.Context)
		}
		if len(r.PartnerHints) > 0 {
			fmt.Fprintf(&b, "About the partner: %s\n", strings.Join(r.PartnerHints, "; "))
		}
		b.WriteString(`Return {"messages":[{"content":"...","impact":"low|medium|high"}]}`)
		return b.String(), nil
	case OpRecommendations:
		return fmt.Sprintf(`Suggest date ideas for a %s mood near latitude %.2f, longitude %.2f. Return {"items":[{"title":"...","description":"..."}]}`,
			p.Category.Label(), p.Latitude, p.Longitude), nil
	case OpCategories:
		return `List popular message categories. Return {"items":[{"id":"...","label":"..."}]}`, nil
	}
	return "", fmt.Errorf("unsupported operation %q", p.Operation)
}
