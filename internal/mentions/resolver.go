package mentions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crossposter/crossposter/internal/llm"
)

const (
	defaultResolveTimeout     = 60 * time.Second
	defaultResolveConcurrency = 8
)

const cleanupSystemPrompt = "You extract profile URLs. Reply with a single bare URL, or exactly NOT FOUND. No other words, no punctuation, no formatting."

type AgentRunner interface {
	Run(ctx context.Context, instruction string) (string, bool)
}

// ProgressSink receives human-readable status lines.
type ProgressSink interface {
	Emit(message string) bool
}

type discardSink struct{}

func (discardSink) Emit(string) bool { return false }

// Handles maps entity name to handle; nil means not found.
type Handles map[string]*string

type Resolver struct {
	agent       AgentRunner
	provider    llm.Provider
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
}

type ResolverOption func(*Resolver)

func WithResolveTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func WithResolveConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResolver(agent AgentRunner, provider llm.Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		agent:       agent,
		provider:    provider,
		logger:      zap.NewNop(),
		timeout:     defaultResolveTimeout,
		concurrency: defaultResolveConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns exactly one entry per distinct entity name. Entity-level
// failures become nil entries; only cancellation of ctx is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, entities map[string]string, strategy Strategy, sink ProgressSink) (Handles, error) {
	if sink == nil {
		sink = discardSink{}
	}
	names := distinctNames(entities)
	handles := make(Handles, len(names))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, name := range names {
		g.Go(func() error {
			handle := r.resolveOne(ctx, strategy, name, sink)
			mu.Lock()
			handles[name] = handle
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return handles, nil
}

func (r *Resolver) resolveOne(ctx context.Context, strategy Strategy, name string, sink ProgressSink) *string {
	p := strategy.Platform()
	logger := r.logger.With(zap.String("platform", p.String()), zap.String("entity", name))
	if ctx.Err() != nil {
		return nil
	}
	sink.Emit(fmt.Sprintf("Looking up %s handle for %s", p.DisplayName(), name))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, ok := r.agent.Run(ctx, strategy.Instruction(name))
	if !ok {
		logger.Warn("handle search failed")
		return nil
	}
	cleaned, err := llm.Complete(ctx, r.provider, cleanupSystemPrompt, "Extract the profile URL from this answer:\n\n"+answer)
	if err != nil {
		logger.Warn("handle cleanup failed", zap.Error(err))
		return nil
	}
	handle, ok := strategy.Normalize(ctx, cleaned)
	if !ok {
		logger.Debug("no usable handle", zap.String("answer", cleaned))
		return nil
	}
	sink.Emit(fmt.Sprintf("Found %s handle for %s: %s", p.DisplayName(), name, handle))
	return &handle
}
