package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/config"
)

// Tier is one model configuration. Bigger movements justify the slower, more
// careful model.
type Tier struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// GenResult is one extracted model response.
type GenResult struct {
	Text           string
	PromptTokens   int
	ResponseTokens int
	FinishReason   string
}

const systemInstruction = "You are a blockchain analyst specializing in large-value BTC movements. Be precise, avoid speculation beyond the provided data, and answer in the requested JSON schema."

// Engine owns tier selection and the generation call.
type Engine struct {
	cfg      *config.Config
	client   *http.Client
	standard Tier
	pro      Tier
}

func NewEngine(cfg *config.Config) *Engine {
	e := &Engine{
		cfg: cfg,
		// ctx deadlines do the real bounding; the client timeout is a backstop
		client:   &http.Client{Timeout: cfg.AITimeout + 10*time.Second},
		standard: Tier{Name: "standard", Model: cfg.AIModel, Temperature: 0.7, TopK: 40, TopP: 0.95, MaxTokens: 2048},
		pro:      Tier{Name: "pro", Model: cfg.AIModelPro, Temperature: 0.4, TopK: 32, TopP: 0.9, MaxTokens: 8192},
	}
	if cfg.AIMaxTokens > 0 {
		e.standard.MaxTokens = cfg.AIMaxTokens
		e.pro.MaxTokens = cfg.AIMaxTokens
	}
	log.Info().Str("standard", e.standard.Model).Str("pro", e.pro.Model).Msg("🤖 AI engine initialized")
	return e
}

// SelectTier routes by movement size. An explicit override always wins:
// "standard" and "pro" pick a tier, anything else is taken as a raw model id
// on standard parameters.
func (e *Engine) SelectTier(amountBTC float64, override string) Tier {
	switch override {
	case "":
	case "standard":
		return e.standard
	case "pro":
		return e.pro
	default:
		t := e.standard
		t.Name = "custom"
		t.Model = override
		return t
	}
	if amountBTC >= e.cfg.TierThresholdBTC {
		return e.pro
	}
	return e.standard
}

// Generate runs one prompt against the tier's model. The caller's ctx bounds
// the whole call.
func (e *Engine) Generate(ctx context.Context, prompt string, tier Tier) (*GenResult, error) {
	reqBody := map[string]interface{}{
		"system_instruction": map[string]interface{}{
			"parts": []map[string]string{{"text": systemInstruction}},
		},
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     tier.Temperature,
			"topK":            tier.TopK,
			"topP":            tier.TopP,
			"maxOutputTokens": tier.MaxTokens,
		},
	}

	body, _ := json.Marshal(reqBody)
	url := fmt.Sprintf("%s/models/%s:generateContent", e.cfg.AIBaseURL, tier.Model)
	req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.cfg.AIAPIKey)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("model API error %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	res, err := parseResponse(respBody)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("model", tier.Model).Dur("took", time.Since(start)).
		Int("prompt_tokens", res.PromptTokens).Int("response_tokens", res.ResponseTokens).
		Msg("🧠 generation done")
	return res, nil
}

// parseResponse pulls text out of whichever envelope the provider used.
// Shapes are tried in fixed priority order; the first hit wins.
func parseResponse(body []byte) (*GenResult, error) {
	var envelope struct {
		Text       string          `json:"text"`
		Content    json.RawMessage `json:"content"`
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("undecodable response envelope: %w", err)
	}

	res := &GenResult{
		PromptTokens:   envelope.UsageMetadata.PromptTokenCount,
		ResponseTokens: envelope.UsageMetadata.CandidatesTokenCount,
	}
	if len(envelope.Candidates) > 0 {
		res.FinishReason = envelope.Candidates[0].FinishReason
	}

	// 1. direct text field
	if envelope.Text != "" {
		res.Text = envelope.Text
		return res, nil
	}

	// 2. nested content-parts array
	if len(envelope.Candidates) > 0 {
		var sb strings.Builder
		for _, p := range envelope.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			res.Text = sb.String()
			return res, nil
		}
	}

	// 3. legacy content field (plain string)
	var legacy string
	if len(envelope.Content) > 0 && json.Unmarshal(envelope.Content, &legacy) == nil && legacy != "" {
		res.Text = legacy
		return res, nil
	}

	return nil, fmt.Errorf("no text in any known response shape")
}

// minReasoningLen keeps trivial prefixes (whitespace, stray fence leftovers)
// from counting as model reasoning.
const minReasoningLen = 20

// SplitReasoning separates a free-text reasoning preamble from the JSON
// payload. Text before the first "{" counts as reasoning only past the
// minimum length; the payload runs through the last "}".
func SplitReasoning(s string) (reasoning, payload string) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", s
	}

	pre := strings.TrimSpace(s[:start])
	pre = strings.TrimSuffix(pre, "```json")
	pre = strings.TrimSuffix(pre, "```")
	pre = strings.TrimSpace(pre)
	if len(pre) > minReasoningLen {
		reasoning = pre
	}
	return reasoning, s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
