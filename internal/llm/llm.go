// Package llm generates text from a prompt, walking an ordered list of model
// names until one answers.
package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelCaller calls one specific model.
type ModelCaller interface {
	GenerateWithModel(ctx context.Context, model, prompt string) (string, error)
}

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("model returned no text")

// Chain tries each model in order and returns the first non-empty answer.
// An invalid model name, a transient failure or an empty answer all move on
// to the next model; the last error is returned when every model fails.
type Chain struct {
	caller ModelCaller
	models []string
	log    *slog.Logger
}

func NewChain(caller ModelCaller, models []string, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	cleaned := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &Chain{caller: caller, models: cleaned, log: log.With("component", "llm")}
}

func (c *Chain) Generate(ctx context.Context, prompt string) (string, error) {
	if len(c.models) == 0 {
		return "", errors.New("no model configured")
	}
	var lastErr error
	for _, model := range c.models {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := c.caller.GenerateWithModel(ctx, model, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, nil
			}
			err = ErrEmptyResponse
		}
		c.log.Warn("model call failed, trying next", "model", model, "error", err)
		lastErr = errors.Wrapf(err, "model %s", model)
	}
	return "", lastErr
}
