package session

// TokenUsage records the token cost of one LLM interaction.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model,omitempty"`
}

// Add returns the element-wise sum of two usage records. The model name is
// kept when both records agree and dropped otherwise.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	model := u.Model
	if other.Model != "" && other.Model != u.Model {
		if u.Model == "" {
			model = other.Model
		} else {
			model = ""
		}
	}
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Model:            model,
	}
}

// EstimateTokens deterministically approximates the token count of a text:
// one token per four bytes, with a floor of one for non-empty text. It
// stands in when a provider reports no usage and drives prompt truncation.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
