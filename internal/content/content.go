// Package content produces message text, either through an LLM provider
// chain or from static templates when generation fails.
package content

import (
	"context"
	"errors"
	"strings"
	"time"

	"serverpal/internal/metrics"
	logx "serverpal/pkg/logx"
)

var ErrNoProviders = errors.New("content: no providers configured")

// Request is one generation call. Kind is the message type and is only used
// for headers, fallbacks and metrics.
type Request struct {
	Kind   string
	System string
	Prompt string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Result reports where the text came from.
type Result struct {
	Text     string
	Provider string
	Fallback bool
}

// Generate runs gen under timeout and returns fallback when gen is nil, fails
// or returns blank text. It never returns an error.
func Generate(ctx context.Context, gen Generator, req Request, timeout time.Duration, fallback string, log logx.Logger) Result {
	if gen == nil {
		return Result{Text: fallback, Fallback: true}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := gen.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) != "" {
		res := Result{Text: strings.TrimSpace(text)}
		if n, ok := gen.(interface{ Name() string }); ok {
			res.Provider = n.Name()
		}
		return res
	}
	if err == nil {
		err = errors.New("content: empty text")
	}
	metrics.ContentFallbacks.WithLabelValues(req.Kind).Inc()
	log.Warn("content generation failed; using template", logx.String("kind", req.Kind), logx.Err(err))
	return Result{Text: fallback, Fallback: true}
}
