package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seralia/guildmind/internal/platform/apierr"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

const togetherDefaultBaseURL = "https://api.together.xyz"

// TogetherAI is the OpenAI-compatible provider variant: chat-completions
// request shape, bearer auth, assistant role kept as "assistant", no safety
// settings and no rich presence.
type TogetherAI struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func NewTogetherAI(baseURL string, log *logger.Logger) *TogetherAI {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = togetherDefaultBaseURL
	}
	return &TogetherAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With("provider", "together"),
	}
}

func (t *TogetherAI) Descriptor() Descriptor {
	return Descriptor{
		ID:                     "together",
		Name:                   "Together AI",
		Description:            "Together AI's collection of open and closed source models",
		SupportsSafetySettings: false,
		SupportsRichPresence:   false,
	}
}

type togetherMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type togetherChatRequest struct {
	Model       string            `json:"model"`
	Messages    []togetherMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"top_p,omitempty"`
	TopK        int               `json:"top_k,omitempty"`
}

type togetherChatResponse struct {
	Choices []struct {
		Message      togetherMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type togetherErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (t *TogetherAI) Generate(ctx context.Context, credential string, messages []Message, cfg GenerationConfig) (*Generation, error) {
	model := cfg.ModelName
	if model == "" {
		model = "mistralai/Mixtral-8x7B-Instruct-v0.1"
	}

	req := togetherChatRequest{
		Model:       model,
		MaxTokens:   cfg.MaxOutputTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		TopK:        cfg.TopK,
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		req.Messages = append(req.Messages, togetherMessage{Role: "system", Content: cfg.SystemInstruction})
	}
	for _, m := range messages {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, togetherMessage{Role: role, Content: m.Text})
	}

	raw, err := t.do(ctx, http.MethodPost, "/v1/chat/completions", credential, req)
	if err != nil {
		return nil, err
	}

	var resp togetherChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apierr.New(apierr.KindTransient, fmt.Errorf("decode together response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, apierr.New(apierr.KindPermanent, fmt.Errorf("no choices returned"))
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, apierr.New(apierr.KindPermanent, fmt.Errorf("empty response text"))
	}
	if strings.EqualFold(choice.FinishReason, "content_filter") {
		return nil, apierr.New(apierr.KindSafetyBlocked, fmt.Errorf("response stopped by content filter"))
	}

	return &Generation{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (t *TogetherAI) ValidateCredential(ctx context.Context, credential string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/models", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false, apierr.New(apierr.KindTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	t.log.Debug("Credential check completed", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK, nil
}

type togetherModel struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	ContextLength int    `json:"context_length"`
}

func (t *TogetherAI) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	raw, err := t.do(ctx, http.MethodGet, "/v1/models", credential, nil)
	if err != nil {
		return nil, err
	}
	var models []togetherModel
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("decode together model list: %w", err)
	}
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, ModelInfo{ID: m.ID, Name: name, ContextLength: m.ContextLength})
	}
	return out, nil
}

func (t *TogetherAI) StaticModels() []ModelInfo {
	return []ModelInfo{
		{ID: "mistralai/Mixtral-8x7B-Instruct-v0.1", Name: "Mixtral 8x7B Instruct", ContextLength: 32768},
		{ID: "meta-llama/Llama-2-70b-chat", Name: "Llama 2 70B Chat", ContextLength: 4096},
		{ID: "NousResearch/Nous-Hermes-2-Mixtral-8x7B-DPO", Name: "Nous Hermes 2 Mixtral", ContextLength: 32768},
	}
}

func (t *TogetherAI) do(ctx context.Context, method, path, credential string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, apierr.New(apierr.KindTransient, readErr)
	}
	t.log.Debug("Request completed", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body togetherErrorResponse
		_ = json.Unmarshal(raw, &body)
		detail := fmt.Errorf("together http %d: %s", resp.StatusCode, strings.TrimSpace(body.Error.Message))
		classified := apierr.FromHTTPStatus(resp.StatusCode, detail)
		t.log.Warn("Request failed", "path", path, "status", resp.StatusCode, "kind", classified.Kind)
		return nil, classified
	}
	return raw, nil
}
