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

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the Google generative language REST API. It supports safety
// settings and rich presence; model-authored turns use the wire role "model".
type Gemini struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func NewGemini(baseURL string, log *logger.Logger) *Gemini {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &Gemini{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With("provider", "gemini"),
	}
}

func (g *Gemini) Descriptor() Descriptor {
	return Descriptor{
		ID:                     "gemini",
		Name:                   "Google Gemini",
		Description:            "Google's Gemini models for natural language processing",
		SupportsSafetySettings: true,
		SupportsRichPresence:   true,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent       `json:"contents"`
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any        `json:"generationConfig,omitempty"`
	SafetySettings    []geminiSafetySetting `json:"safetySettings,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Generate(ctx context.Context, credential string, messages []Message, cfg GenerationConfig) (*Generation, error) {
	model := cfg.ModelName
	if model == "" {
		model = "gemini-1.5-pro"
	}

	req := geminiGenerateRequest{
		Contents: make([]geminiContent, 0, len(messages)),
		GenerationConfig: map[string]any{
			"temperature":     cfg.Temperature,
			"topP":            cfg.TopP,
			"topK":            cfg.TopK,
			"maxOutputTokens": cfg.MaxOutputTokens,
		},
	}
	for _, m := range messages {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Text}},
		})
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: cfg.SystemInstruction}}}
	}
	for category, threshold := range cfg.SafetySettings {
		req.SafetySettings = append(req.SafetySettings, geminiSafetySetting{
			Category:  category,
			Threshold: threshold,
		})
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	raw, err := g.do(ctx, http.MethodPost, path, credential, req)
	if err != nil {
		return nil, err
	}

	var resp geminiGenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apierr.New(apierr.KindTransient, fmt.Errorf("decode gemini response: %w", err))
	}

	if resp.PromptFeedback.BlockReason != "" {
		return nil, apierr.New(apierr.KindSafetyBlocked,
			fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return nil, apierr.New(apierr.KindPermanent, fmt.Errorf("no candidates returned"))
	}
	cand := resp.Candidates[0]
	if strings.EqualFold(cand.FinishReason, "SAFETY") {
		return nil, apierr.New(apierr.KindSafetyBlocked,
			fmt.Errorf("candidate stopped: %s", cand.FinishReason))
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, apierr.New(apierr.KindPermanent, fmt.Errorf("empty response text"))
	}

	return &Generation{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (g *Gemini) ValidateCredential(ctx context.Context, credential string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1beta/models", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("x-goog-api-key", credential)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, apierr.New(apierr.KindTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	g.log.Debug("Credential check completed", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK, nil
}

type geminiModelsResponse struct {
	Models []struct {
		Name            string `json:"name"`
		DisplayName     string `json:"displayName"`
		Description     string `json:"description"`
		InputTokenLimit int    `json:"inputTokenLimit"`
	} `json:"models"`
}

func (g *Gemini) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	raw, err := g.do(ctx, http.MethodGet, "/v1beta/models", credential, nil)
	if err != nil {
		return nil, err
	}
	var resp geminiModelsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini model list: %w", err)
	}
	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{
			ID:            strings.TrimPrefix(m.Name, "models/"),
			Name:          m.DisplayName,
			Description:   m.Description,
			ContextLength: m.InputTokenLimit,
		})
	}
	return out, nil
}

func (g *Gemini) StaticModels() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Description: "Latest version of Gemini Pro", ContextLength: 128000},
		{ID: "gemini-1.5-flash-latest", Name: "Gemini 1.5 Flash Latest", Description: "Fast, lower-cost Gemini model", ContextLength: 128000},
	}
}

func (g *Gemini) do(ctx context.Context, method, path, credential string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, apierr.New(apierr.KindTransient, readErr)
	}
	g.log.Debug("Request completed", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyGeminiError(resp.StatusCode, raw)
		g.log.Warn("Request failed", "path", path, "status", resp.StatusCode, "kind", classified.Kind)
		return nil, classified
	}
	return raw, nil
}

// classifyGeminiError maps the API's canonical status strings onto the
// failure taxonomy; the HTTP status decides when the body is unreadable.
func classifyGeminiError(status int, raw []byte) *apierr.Error {
	var body geminiErrorResponse
	_ = json.Unmarshal(raw, &body)

	detail := fmt.Errorf("gemini http %d: %s", status, strings.TrimSpace(body.Error.Message))
	switch body.Error.Status {
	case "RESOURCE_EXHAUSTED":
		return apierr.NewHTTP(apierr.KindQuota, status, detail)
	case "PERMISSION_DENIED", "INVALID_ARGUMENT", "NOT_FOUND", "FAILED_PRECONDITION", "UNAUTHENTICATED":
		return apierr.NewHTTP(apierr.KindPermanent, status, detail)
	case "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED":
		return apierr.NewHTTP(apierr.KindTransient, status, detail)
	}
	return apierr.FromHTTPStatus(status, detail)
}
