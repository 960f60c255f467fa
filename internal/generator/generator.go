package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/logger"
)

// completer is the prompt-in/text-out surface Generate consumes. Tests
// substitute a scripted implementation.
type completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Artifact is the result of one generation request.
type Artifact struct {
	Kind     Kind
	Content  string
	Fallback bool
}

// Generator is the fallback-guaranteed adapter over the external
// generation capability. Its invariant: Generate never returns content
// that fails the requested kind's content contract, regardless of how
// the external capability behaves. The only hard failure is context
// cancellation.
type Generator struct {
	client     completer
	maxRetries int
	retryDelay time.Duration
}

// New creates a Generator backed by the real HTTP client.
func New(cfg *config.GeneratorConfig) *Generator {
	return &Generator{
		client:     NewClient(cfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
	}
}

// NewWithCompleter creates a Generator over a custom completer.
func NewWithCompleter(c completer, maxRetries int) *Generator {
	return &Generator{client: c, maxRetries: maxRetries, retryDelay: 0}
}

// Generate produces an artifact of the requested kind. Transient
// errors are retried up to the configured bound; quota exhaustion and
// invalid responses fall back immediately; a response that fails the
// kind's content contract is treated as invalid. In every failure path
// the deterministic fallback artifact is returned instead of an error.
func (g *Generator) Generate(ctx context.Context, kind Kind, genCtx Context) (*Artifact, error) {
	spec, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}

	userPrompt := spec.buildPrompt(genCtx)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}

		text, err := g.client.Complete(ctx, spec.systemPrompt, userPrompt)
		if err == nil {
			if cerr := spec.checkContract(genCtx, text); cerr != nil {
				logger.CtxWarn(ctx, "Generated %s failed content contract, using fallback: %v", kind, cerr)
				return g.fallback(kind, spec, genCtx), nil
			}
			return &Artifact{Kind: kind, Content: text}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if errors.Is(err, ErrTransient) {
			logger.CtxWarn(ctx, "Transient generator error for %s (attempt %d/%d): %v",
				kind, attempt+1, g.maxRetries+1, err)
			continue
		}
		// Quota exhaustion and invalid responses do not improve with
		// immediate retries.
		break
	}

	logger.CtxWarn(ctx, "Generator unavailable for %s, using fallback: %v", kind, lastErr)
	return g.fallback(kind, spec, genCtx), nil
}

func (g *Generator) fallback(kind Kind, spec kindSpec, genCtx Context) *Artifact {
	return &Artifact{
		Kind:     kind,
		Content:  spec.buildFallback(genCtx),
		Fallback: true,
	}
}
