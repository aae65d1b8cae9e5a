package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/decision"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4"
	defaultHTTPTimeout   = 30 * time.Second
)

var (
	ErrMissingAPIKey     = errors.New("analysis api key not configured")
	ErrMalformedAnalysis = errors.New("analysis reply is not the expected JSON shape")
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

// OpenAIAnalyzer asks an OpenAI-compatible chat-completions endpoint for a
// JSON verdict. The reply is untrusted: every field is validated before it
// reaches the decision engine.
type OpenAIAnalyzer struct {
	cfg    *OpenAIConfig
	client *http.Client
}

func NewOpenAIAnalyzer(cfg *OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	out := *cfg
	if out.BaseURL == "" {
		out.BaseURL = defaultOpenAIBaseURL
	}
	if out.Model == "" {
		out.Model = defaultModel
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = defaultHTTPTimeout
	}
	return &OpenAIAnalyzer{
		cfg:    &out,
		client: &http.Client{Timeout: out.HTTPTimeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// verdictReply is the JSON schema the model is instructed to follow.
type verdictReply struct {
	ShouldInvest *bool       `json:"shouldInvest"`
	Confidence   json.Number `json:"confidence"`
	Reasoning    string      `json:"reasoning"`
	Volatility   json.Number `json:"volatility"`
	Sentiment    string      `json:"sentiment"`
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, snap *Snapshot) (*decision.Verdict, error) {
	reqBody, err := json.Marshal(&chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are a professional cryptocurrency investment analyst. Always respond with valid JSON only.",
			},
			{
				Role:    "user",
				Content: buildPrompt(snap),
			},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, err
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedAnalysis)
	}

	verdict, err := parseVerdict(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{
		"shouldInvest": verdict.ShouldInvest,
		"confidence":   verdict.Confidence.String(),
	}).Info("analysis verdict received")
	return verdict, nil
}

// parseVerdict validates the model's reply strictly: shouldInvest must be an
// explicit boolean and confidence a number in [0, 1]. Models sometimes wrap
// JSON in a markdown fence; strip it before decoding.
func parseVerdict(content string) (*decision.Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var reply verdictReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if reply.ShouldInvest == nil {
		return nil, fmt.Errorf("%w: missing shouldInvest", ErrMalformedAnalysis)
	}
	if reply.Confidence == "" {
		return nil, fmt.Errorf("%w: missing confidence", ErrMalformedAnalysis)
	}
	confidence, err := decimal.NewFromString(reply.Confidence.String())
	if err != nil {
		return nil, fmt.Errorf("%w: confidence is not a number", ErrMalformedAnalysis)
	}
	if confidence.IsNegative() || confidence.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: confidence %s outside [0, 1]", ErrMalformedAnalysis, confidence.String())
	}
	return &decision.Verdict{
		ShouldInvest: *reply.ShouldInvest,
		Confidence:   confidence,
		Reasoning:    reply.Reasoning,
	}, nil
}

func buildPrompt(snap *Snapshot) string {
	var b strings.Builder
	b.WriteString("As a cryptocurrency investment analyst, assess the current BTC market and advise on a DCA buy.\n\nCurrent market data:\n")
	for _, s := range snap.Snapshots {
		fmt.Fprintf(&b, "- %s price: $%s\n", s.Source, s.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "- average price: $%s\n", snap.ConsensusPrice.StringFixed(2))
	fmt.Fprintf(&b, "- max deviation: %s%%\n\n", snap.MaxDeviation.StringFixed(2))
	fmt.Fprintf(&b, "DCA strategy parameters:\n- amount per cycle: %s USDC\n", snap.AmountUsdc.String())
	thresholds := make([]string, 0, len(snap.Thresholds))
	for _, t := range snap.Thresholds {
		thresholds = append(thresholds, "$"+t.String())
	}
	fmt.Fprintf(&b, "- entry thresholds: %s\n", strings.Join(thresholds, ", "))
	fmt.Fprintf(&b, "- minimum confidence: %s\n\n", snap.MinConfidence.String())
	b.WriteString(`Reply with JSON only, in this exact shape:
{
  "shouldInvest": boolean,
  "confidence": number,
  "reasoning": "...",
  "volatility": number,
  "sentiment": "bullish/bearish/neutral"
}`)
	return b.String()
}
