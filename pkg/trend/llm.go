package trend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/elonfeng/timeline-digest/pkg/source"
)

const systemPrompt = `You evaluate timeline posts for relevance to a set of topics and write a concise digest for one calendar day. Return valid JSON only.`

var instructions = []string{
	"Emit exactly one decision object per post in decisions, keyed by item_id.",
	"Set relevant to true only when the post is useful for the topics.",
	"Use relevance_score from 0 to 100.",
	"For irrelevant posts keep why_relevant and main_takeaway short.",
	"Write subject and summary for the day based on the relevant posts.",
	"If nothing is relevant, still return every decision and a short summary explaining the low-signal day.",
	"List external article links worth reading in article_links, with the reason.",
}

// anthropicFormat spells out the response shape for providers without
// structured output support.
const anthropicFormat = `Respond with a single JSON object and no other text:
{"subject": string, "summary": string, "decisions": [{"item_id": string, "relevant": bool, "why_relevant": string, "main_takeaway": string, "relevance_score": number}], "article_links": [{"url": string, "why_relevant": string}]}`

// Default model per provider.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
)

const maxDigestTokens = 8192

// LLMGenerator produces a DayDigest from one day's scored items using
// OpenAI (strict JSON schema output) or Anthropic.
type LLMGenerator struct {
	provider  string // "openai" or "anthropic"
	model     string
	openai    *openai.Client
	anthropic *anthropic.Client
	logger    *log.Logger
}

// NewLLMGenerator creates a generator for the given provider. baseURL is
// optional and overrides the provider's API endpoint.
func NewLLMGenerator(provider, model, apiKey, baseURL string, logger *log.Logger) (*LLMGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s api key is missing", provider)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	g := &LLMGenerator{provider: provider, model: model, logger: logger}
	switch provider {
	case "anthropic":
		if g.model == "" {
			g.model = DefaultAnthropicModel
		}
		var opts []anthropic.ClientOption
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		g.anthropic = anthropic.NewClient(apiKey, opts...)
	case "openai", "":
		g.provider = "openai"
		if g.model == "" {
			g.model = DefaultOpenAIModel
		}
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		g.openai = openai.NewClientWithConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
	return g, nil
}

// Model reports the model used for generation.
func (g *LLMGenerator) Model() string { return g.model }

type promptItem struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Text     string `json:"text"`
	Author   string `json:"author"`
	Handle   string `json:"handle"`
	PostedAt string `json:"posted_at"`
	Likes    int    `json:"likes"`
	Reposts  int    `json:"reposts"`
	Replies  int    `json:"replies"`
	Views    int    `json:"views"`
	Score    int    `json:"score"`
}

type promptPayload struct {
	Day          string       `json:"day"`
	Topics       []string     `json:"topics"`
	Items        []promptItem `json:"items"`
	Instructions []string     `json:"instructions"`
}

// GenerateDayDigest asks the model for a digest of one day's items. The
// response is validated with DayDigest.Normalize.
func (g *LLMGenerator) GenerateDayDigest(ctx context.Context, day string, items []source.Item, topics []string) (*DayDigest, error) {
	prompt, err := buildPrompt(day, items, topics)
	if err != nil {
		return nil, err
	}

	var raw string
	switch g.provider {
	case "anthropic":
		raw, err = g.callAnthropic(ctx, prompt)
	default:
		raw, err = g.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	digest, err := parseDayDigest(raw)
	if err != nil {
		return nil, fmt.Errorf("%s day digest for %s: %w", g.provider, day, err)
	}
	g.logger.Debug("day digest generated", "day", day, "items", len(items), "decisions", len(digest.Decisions))
	return digest, nil
}

func buildPrompt(day string, items []source.Item, topics []string) (string, error) {
	payload := promptPayload{Day: day, Topics: topics, Instructions: instructions}
	for _, it := range items {
		payload.Items = append(payload.Items, promptItem{
			ID:       it.ID,
			URL:      it.URL,
			Text:     it.Text,
			Author:   it.Author,
			Handle:   it.Handle,
			PostedAt: it.PostedAt,
			Likes:    it.Likes,
			Reposts:  it.Reposts,
			Replies:  it.Replies,
			Views:    it.Views,
			Score:    it.Score,
		})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode digest prompt: %w", err)
	}
	return string(b), nil
}

func (g *LLMGenerator) callOpenAI(ctx context.Context, prompt string) (string, error) {
	resp, err := g.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "day_digest",
				Schema: dayDigestSchema(),
				Strict: true,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai response did not include json content")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *LLMGenerator) callAnthropic(ctx context.Context, prompt string) (string, error) {
	text := systemPrompt + "\n\n" + anthropicFormat + "\n\n" + prompt
	resp, err := g.anthropic.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxDigestTokens,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", errors.New("anthropic response did not include content")
	}
	return resp.Content[0].GetText(), nil
}

func parseDayDigest(raw string) (*DayDigest, error) {
	raw = stripCodeFence(raw)
	var d DayDigest
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("parse response: %w (raw: %s)", err, source.Snippet(raw, 300))
	}
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	return &d, nil
}

// stripCodeFence removes a surrounding markdown code block, if any.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
		raw = raw[3+idx+1:]
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

func dayDigestSchema() *jsonschema.Definition {
	decision := jsonschema.Definition{
		Type:                 jsonschema.Object,
		AdditionalProperties: false,
		Required:             []string{"item_id", "relevant", "why_relevant", "main_takeaway", "relevance_score"},
		Properties: map[string]jsonschema.Definition{
			"item_id":         {Type: jsonschema.String},
			"relevant":        {Type: jsonschema.Boolean},
			"why_relevant":    {Type: jsonschema.String},
			"main_takeaway":   {Type: jsonschema.String},
			"relevance_score": {Type: jsonschema.Number},
		},
	}
	link := jsonschema.Definition{
		Type:                 jsonschema.Object,
		AdditionalProperties: false,
		Required:             []string{"url", "why_relevant"},
		Properties: map[string]jsonschema.Definition{
			"url":          {Type: jsonschema.String},
			"why_relevant": {Type: jsonschema.String},
		},
	}
	return &jsonschema.Definition{
		Type:                 jsonschema.Object,
		AdditionalProperties: false,
		Required:             []string{"subject", "summary", "decisions", "article_links"},
		Properties: map[string]jsonschema.Definition{
			"subject":       {Type: jsonschema.String},
			"summary":       {Type: jsonschema.String},
			"decisions":     {Type: jsonschema.Array, Items: &decision},
			"article_links": {Type: jsonschema.Array, Items: &link},
		},
	}
}
