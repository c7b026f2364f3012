package infra

import "fmt"

// GenerationOptions are shared by every code generation client.
type GenerationOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// Language is the programming language to answer in; empty lets the
	// model infer it from the request.
	Language string
}

func (o GenerationOptions) WithDefaults(model string) GenerationOptions {
	if o.Model == "" {
		o.Model = model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// SystemPrompt is the instruction sent ahead of every spoken request.
func SystemPrompt(language string) string {
	lang := "the programming language the request implies"
	if language != "" {
		lang = language
	}
	return fmt.Sprintf(`You write code from spoken requests dictated inside a code editor.

The request was transcribed from speech, so expect missing punctuation and homophones.
Answer in %s.
Respond with exactly one fenced code block (three backticks) containing only the code to insert.
Do not explain the code outside the block.`, lang)
}
