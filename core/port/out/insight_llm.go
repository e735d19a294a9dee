package out

import "context"

// LLMClient sends a prompt to a generative model and returns the raw text answer.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
