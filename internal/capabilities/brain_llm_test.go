package capabilities

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

func TestLLMBrain_NoAPIKeyDegradesToWait(t *testing.T) {
	b := NewLLMBrain("", nil)
	decision, err := b.Think(context.Background(), &models.Observation{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "wait", decision.Action)
	assert.Equal(t, 1.0, decision.Confidence)
}

func TestLLMBrain_DefaultsModelAndTemperatureWhenConfigNil(t *testing.T) {
	b := NewLLMBrain("sk-test", nil)
	assert.Equal(t, "gpt-4o-mini", b.model)
	assert.Equal(t, 0.2, b.temperature)
}

func TestLLMBrain_HonorsConfiguredModelAndTemperature(t *testing.T) {
	b := NewLLMBrain("sk-test", &models.LLMConfig{Model: "gpt-4o", Temperature: 0.7})
	assert.Equal(t, "gpt-4o", b.model)
	assert.Equal(t, 0.7, b.temperature)
}

func TestLLMSystemPrompt_ListsEveryActionName(t *testing.T) {
	actions := []runner.Action{NewSwapAction(common.Address{}), NewCheckBalanceAction()}
	prompt := llmSystemPrompt(actions)
	assert.Contains(t, prompt, "swap")
	assert.Contains(t, prompt, "checkBalance")
	assert.Contains(t, prompt, `"wait"`)
}

func TestLLMUserPrompt_IncludesObservationAndMemory(t *testing.T) {
	obs := &models.Observation{
		NativeBalance: big.NewInt(500),
		GasPrice:      big.NewInt(10),
		BlockNumber:   123,
		Paused:        false,
	}
	memories := []*models.MemoryEntry{
		{Timestamp: time.Now(), Type: models.MemoryKind("observation"), Action: "wait", Reasoning: "nothing to do"},
	}
	prompt := llmUserPrompt(obs, memories)
	assert.Contains(t, prompt, "nativeBalance=500")
	assert.Contains(t, prompt, "gasPrice=10")
	assert.Contains(t, prompt, "blockNumber=123")
	assert.Contains(t, prompt, "nothing to do")
}

func TestLLMUserPrompt_HandlesNilObservation(t *testing.T) {
	prompt := llmUserPrompt(nil, nil)
	assert.Contains(t, prompt, "Observation:")
}

func TestBigOrZero(t *testing.T) {
	assert.Equal(t, "0", bigOrZero(nil))
	assert.Equal(t, "42", bigOrZero(big.NewInt(42)))
}
