package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/logger"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

const openaiChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// LLMBrain proposes a Decision by asking an OpenAI-compatible chat model to
// pick among the agent's available actions given the current Observation and
// recalled memory. Only the "openai" provider is wired; an unconfigured or
// empty API key degrades to a "wait" decision rather than failing the cycle.
type LLMBrain struct {
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewLLMBrain(apiKey string, cfg *models.LLMConfig) *LLMBrain {
	model := "gpt-4o-mini"
	temperature := 0.2
	if cfg != nil {
		if cfg.Model != "" {
			model = cfg.Model
		}
		temperature = cfg.Temperature
	}
	return &LLMBrain{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *LLMBrain) Think(ctx context.Context, obs *models.Observation, memories []*models.MemoryEntry, actions []runner.Action) (*models.Decision, error) {
	if b.apiKey == "" {
		return &models.Decision{Action: "wait", Reasoning: "llm brain has no configured api key", Confidence: 1}, nil
	}

	reqBody := map[string]any{
		"model": b.model,
		"messages": []map[string]string{
			{"role": "system", "content": llmSystemPrompt(actions)},
			{"role": "user", "content": llmUserPrompt(obs, memories)},
		},
		"temperature":     b.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm brain: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openaiChatCompletionsURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("llm brain: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm brain: request failed: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llm brain: api error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm brain: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm brain: no choices in response")
	}
	content := parsed.Choices[0].Message.Content

	logger.Debug("llm brain response", zap.Duration("latency", latency), zap.String("content", content))

	var decision models.Decision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return nil, fmt.Errorf("llm brain: parse decision json: %w", err)
	}
	return &decision, nil
}

func llmSystemPrompt(actions []runner.Action) string {
	var sb strings.Builder
	sb.WriteString("You control one on-chain vault agent. Reply with a single JSON object matching ")
	sb.WriteString(`{"action": string, "reasoning": string, "confidence": number, "params": object, "blocked": bool, "blockReason": string}. `)
	sb.WriteString("Available actions: ")
	for i, a := range actions {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name())
	}
	sb.WriteString(". Use action \"wait\" when no action should run this cycle.")
	return sb.String()
}

func llmUserPrompt(obs *models.Observation, memories []*models.MemoryEntry) string {
	var sb strings.Builder
	sb.WriteString("Observation: ")
	if obs != nil {
		fmt.Fprintf(&sb, "nativeBalance=%s gasPrice=%s blockNumber=%d paused=%t",
			bigOrZero(obs.NativeBalance), bigOrZero(obs.GasPrice), obs.BlockNumber, obs.Paused)
	}
	sb.WriteString("\nRecent memory:\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- [%s] %s %s\n", m.Type, m.Action, m.Reasoning)
	}
	return sb.String()
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
