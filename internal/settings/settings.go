package settings

// EvictPolicy controls when a credential is dropped from the pool.
type EvictPolicy string

const (
	// EvictOnQuota drops a key only when the upstream reports quota
	// exhaustion for it.
	EvictOnQuota EvictPolicy = "on_quota"
	// EvictOnAnyUpstreamFailure drops a key on any provider-side failure.
	EvictOnAnyUpstreamFailure EvictPolicy = "on_any_failure"
)

// Settings is the fully resolved per-conversation configuration.
type Settings struct {
	Provider          string            `json:"provider"`
	ModelName         string            `json:"model_name"`
	Temperature       float64           `json:"temperature"`
	TopP              float64           `json:"top_p"`
	TopK              int               `json:"top_k"`
	MaxOutputTokens   int               `json:"max_output_tokens"`
	SystemInstruction string            `json:"system_instruction"`
	SafetySettings    map[string]string `json:"safety_settings"`
	// MaxContextSize of zero defers to the deployment-wide cap.
	MaxContextSize int         `json:"max_context_size"`
	EvictPolicy    EvictPolicy `json:"evict_policy"`
}

// Defaults is the baseline every conversation starts from.
func Defaults() Settings {
	return Settings{
		Provider:        "gemini",
		ModelName:       "gemini-1.5-flash-latest",
		Temperature:     1.0,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 2048,
		SafetySettings: map[string]string{
			"HARM_CATEGORY_HARASSMENT":        "BLOCK_MEDIUM_AND_ABOVE",
			"HARM_CATEGORY_HATE_SPEECH":       "BLOCK_MEDIUM_AND_ABOVE",
			"HARM_CATEGORY_SEXUALLY_EXPLICIT": "BLOCK_MEDIUM_AND_ABOVE",
			"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_MEDIUM_AND_ABOVE",
		},
		EvictPolicy: EvictOnQuota,
	}
}

// Overrides holds a conversation's explicit choices. Nil fields fall
// through to Defaults.
type Overrides struct {
	Provider          *string           `json:"provider,omitempty"`
	ModelName         *string           `json:"model_name,omitempty"`
	Temperature       *float64          `json:"temperature,omitempty"`
	TopP              *float64          `json:"top_p,omitempty"`
	TopK              *int              `json:"top_k,omitempty"`
	MaxOutputTokens   *int              `json:"max_output_tokens,omitempty"`
	SystemInstruction *string           `json:"system_instruction,omitempty"`
	SafetySettings    map[string]string `json:"safety_settings,omitempty"`
	MaxContextSize    *int              `json:"max_context_size,omitempty"`
	EvictPolicy       *EvictPolicy      `json:"evict_policy,omitempty"`
}

// Apply lays o over base and returns the merged result.
func (o Overrides) Apply(base Settings) Settings {
	out := base
	if o.Provider != nil {
		out.Provider = *o.Provider
	}
	if o.ModelName != nil {
		out.ModelName = *o.ModelName
	}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = *o.TopP
	}
	if o.TopK != nil {
		out.TopK = *o.TopK
	}
	if o.MaxOutputTokens != nil {
		out.MaxOutputTokens = *o.MaxOutputTokens
	}
	if o.SystemInstruction != nil {
		out.SystemInstruction = *o.SystemInstruction
	}
	if o.SafetySettings != nil {
		out.SafetySettings = o.SafetySettings
	}
	if o.MaxContextSize != nil {
		out.MaxContextSize = *o.MaxContextSize
	}
	if o.EvictPolicy != nil {
		out.EvictPolicy = *o.EvictPolicy
	}
	return out
}

func merge(dst, src Overrides) Overrides {
	if src.Provider != nil {
		dst.Provider = src.Provider
	}
	if src.ModelName != nil {
		dst.ModelName = src.ModelName
	}
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	if src.TopP != nil {
		dst.TopP = src.TopP
	}
	if src.TopK != nil {
		dst.TopK = src.TopK
	}
	if src.MaxOutputTokens != nil {
		dst.MaxOutputTokens = src.MaxOutputTokens
	}
	if src.SystemInstruction != nil {
		dst.SystemInstruction = src.SystemInstruction
	}
	if src.SafetySettings != nil {
		dst.SafetySettings = src.SafetySettings
	}
	if src.MaxContextSize != nil {
		dst.MaxContextSize = src.MaxContextSize
	}
	if src.EvictPolicy != nil {
		dst.EvictPolicy = src.EvictPolicy
	}
	return dst
}
