package sessionhttp

// ConnectRequest optionally stages an API key before selection.
type ConnectRequest struct {
	APIKey *string `json:"api_key"`
}

// PromptRequest sets the prompt. An empty prompt falls back to the default
// at generation time.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// AspectRatioRequest sets the aspect ratio.
type AspectRatioRequest struct {
	AspectRatio string `json:"aspect_ratio" binding:"required"`
}
