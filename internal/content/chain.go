package content

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	logx "serverpal/pkg/logx"
)

// Provider is a Generator with a name for logs.
type Provider interface {
	Generator
	Name() string
}

// Chain tries providers in order and returns the first success. Name reports
// the provider that answered last.
type Chain struct {
	providers []Provider
	log       logx.Logger
	last      atomic.Value // string
}

func NewChain(log logx.Logger, providers ...Provider) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{providers: providers, log: log.With(logx.String("comp", "content"))}
}

// NewChainFromConfig builds one Client per provider config, skipping invalid
// entries with a warning.
func NewChainFromConfig(log logx.Logger, cfgs []ProviderConfig) *Chain {
	c := NewChain(log)
	for _, pc := range cfgs {
		cl, err := NewClient(pc)
		if err != nil {
			c.log.Warn("provider skipped", logx.Err(err))
			continue
		}
		c.providers = append(c.providers, cl)
	}
	return c
}

func (c *Chain) Len() int { return len(c.providers) }

// Names lists the providers in try order.
func (c *Chain) Names() []string {
	out := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p.Name())
	}
	return out
}

func (c *Chain) Name() string {
	if s, _ := c.last.Load().(string); s != "" {
		return s
	}
	return "chain"
}

func (c *Chain) Generate(ctx context.Context, req Request) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}
	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		text, err := p.Generate(ctx, req)
		if err == nil {
			c.last.Store(p.Name())
			return text, nil
		}
		c.log.Debug("provider failed", logx.String("provider", p.Name()), logx.Err(err))
		errs = append(errs, err)
	}
	return "", fmt.Errorf("content: all providers failed: %w", errors.Join(errs...))
}
