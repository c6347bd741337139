package provider

import (
	"context"
	"sort"

	"github.com/seralia/guildmind/internal/platform/logger"
)

// Message is one conversation turn in provider-neutral form. Role is either
// types.RoleUser or types.RoleAssistant; each provider translates to its own
// wire role names ("model" vs "assistant") in its request builder.
type Message struct {
	Role string
	Text string
}

// GenerationConfig carries the per-conversation tunables. SafetySettings is
// provider-specific and ignored by providers that don't support it.
type GenerationConfig struct {
	ModelName         string
	Temperature       float64
	TopP              float64
	TopK              int
	MaxOutputTokens   int
	SystemInstruction string
	SafetySettings    map[string]string
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Generation struct {
	Text  string
	Usage Usage
}

type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
}

type Descriptor struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Description            string `json:"description"`
	SupportsSafetySettings bool   `json:"supports_safety_settings"`
	SupportsRichPresence   bool   `json:"supports_rich_presence"`
}

// Provider is the capability set every upstream integration implements.
// Implementations make exactly one upstream attempt per Generate call and
// classify failures via apierr; retry policy lives with the caller.
type Provider interface {
	Descriptor() Descriptor
	Generate(ctx context.Context, credential string, messages []Message, cfg GenerationConfig) (*Generation, error)
	ValidateCredential(ctx context.Context, credential string) (bool, error)
	ListModels(ctx context.Context, credential string) ([]ModelInfo, error)
	// StaticModels is the catalog served when the live listing fails.
	StaticModels() []ModelInfo
}

// Registry resolves provider implementations by id. Resolving an unknown id
// returns the configured default provider rather than an error, so a stale
// provider id in a guild's settings degrades gracefully instead of breaking
// the guild.
type Registry struct {
	providers map[string]Provider
	defaultID string
	log       *logger.Logger
}

func NewRegistry(defaultID string, log *logger.Logger) *Registry {
	return &Registry{
		providers: map[string]Provider{},
		defaultID: defaultID,
		log:       log.With("service", "ProviderRegistry"),
	}
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Descriptor().ID] = p
}

func (r *Registry) Resolve(id string) Provider {
	if p, ok := r.providers[id]; ok {
		return p
	}
	if id != "" && id != r.defaultID {
		r.log.Warn("Unknown provider id, falling back to default",
			"provider", id,
			"default", r.defaultID,
		)
	}
	return r.providers[r.defaultID]
}

func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListModels returns the live model catalog for the provider, falling back
// to its static catalog when the upstream listing fails.
func (r *Registry) ListModels(ctx context.Context, id, credential string) []ModelInfo {
	p := r.Resolve(id)
	models, err := p.ListModels(ctx, credential)
	if err != nil || len(models) == 0 {
		if err != nil {
			r.log.Warn("Live model listing failed, serving static catalog",
				"provider", p.Descriptor().ID,
				"error", err,
			)
		}
		return p.StaticModels()
	}
	return models
}
