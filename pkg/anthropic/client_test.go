package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":          "msg_001",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":            120,
			"output_tokens":           40,
			"cache_read_input_tokens": 900,
		},
	})
}

func TestClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var sent map[string]any
		require.NoError(t, json.Unmarshal(body, &sent))
		assert.Equal(t, "claude-haiku-4-5-20251001", sent["model"])
		system, ok := sent["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		assert.Contains(t, system[0].(map[string]any), "cache_control")

		writeMessage(w, `{"offers":[]}`)
	}))
	defer ts.Close()

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	temp := 0.0
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   512,
		System:      CachedSystem("Extract offers.", "1h"),
		Messages:    []Message{{Role: "user", Content: "Botox $10/unit"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_001", resp.ID)
	assert.Equal(t, `{"offers":[]}`, resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(900), resp.Usage.CacheReadInputTokens)
}

func TestClient_CreateMessage_StatusCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 64,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(eris.New("dial tcp: refused")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: `{"offers":`},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: `[]}`},
	}}
	assert.Equal(t, `{"offers":[]}`, resp.Text())

	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_x",
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "max_tokens",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "partial"}},
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 20, CacheCreationInputTokens: 30},
	})
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, "partial", resp.Text())
	assert.Equal(t, int64(30), resp.Usage.CacheCreationInputTokens)
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "5m"}},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "plain", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("5m"), blocks[1].CacheControl.TTL)
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "tool", Content: "c"}})
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestCachedSystem(t *testing.T) {
	assert.Nil(t, CachedSystem("", "1h"))
	blocks := CachedSystem("schema", "1h")
	require.Len(t, blocks, 1)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{"haiku", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-haiku-4-5-20251001", 6.00},
		{"sonnet", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-sonnet-4-5-20250929", 18.00},
		{"cache", TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}, "claude-haiku-4-5-20251001", 1.35},
		{"unknown", TokenUsage{InputTokens: 1_000_000}, "other-model", 0},
		{"zero", TokenUsage{}, "claude-haiku-4-5-20251001", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.0001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100}.LogCost("unknown", "structure")
	})
}
