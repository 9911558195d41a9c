package mentions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/platform"
)

type State string

const (
	StateExtracting State = "extracting"
	StateResolving  State = "resolving"
	StateComposing  State = "composing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

type Request struct {
	Text      string
	Media     []byte
	MediaType string
}

// Result is the payload of the terminal completed event.
type Result struct {
	Drafts  map[platform.Platform]string
	Handles map[platform.Platform]Handles
}

type Pipeline struct {
	extractor  *Extractor
	resolver   *Resolver
	composer   *Composer
	strategies []Strategy
	logger     *zap.Logger
}

func NewPipeline(extractor *Extractor, resolver *Resolver, composer *Composer, strategies []Strategy, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractor:  extractor,
		resolver:   resolver,
		composer:   composer,
		strategies: strategies,
		logger:     logger,
	}
}

// Generate starts a drafting run. The stream ends with exactly one terminal
// event; cancelling ctx stops the run and closes the stream.
func (p *Pipeline) Generate(ctx context.Context, req Request) *events.Stream {
	stream := events.NewStream(ctx)
	go func() {
		result, err := p.Run(ctx, req, stream)
		if err != nil {
			stream.Fail(err)
			return
		}
		stream.Complete(result.wire())
	}()
	return stream
}

// Run executes the pipeline synchronously, reporting progress to sink.
func (p *Pipeline) Run(ctx context.Context, req Request, sink ProgressSink) (Result, error) {
	if sink == nil {
		sink = discardSink{}
	}
	logger := p.logger
	state := StateExtracting
	fail := func(err error) (Result, error) {
		logger.Warn("drafting run failed", zap.String("state", string(state)), zap.Error(err))
		return Result{}, err
	}

	if len(req.Media) > 0 {
		sink.Emit(fmt.Sprintf("Received source draft with %d bytes of media...", len(req.Media)))
	} else {
		sink.Emit("Received source draft...")
	}
	if strings.TrimSpace(req.Text) == "" {
		return fail(fmt.Errorf("source draft is empty"))
	}

	sink.Emit("Extracting entities...")
	extraction, err := p.extractor.Extract(ctx, req.Text)
	if err != nil {
		return fail(err)
	}
	entitiesJSON, _ := json.Marshal(extraction.Entities)
	sink.Emit("Extracted entities: " + string(entitiesJSON))
	sink.Emit("Entity placeholder draft: " + extraction.Text)
	if len(extraction.UnusedLabels) > 0 {
		sink.Emit("Ignoring entities with no placeholder: " + strings.Join(extraction.UnusedLabels, ", "))
		logger.Info("extraction returned unused labels", zap.Strings("labels", extraction.UnusedLabels))
	}

	state = StateResolving
	handles, err := p.resolveAll(ctx, extraction.Entities, sink)
	if err != nil {
		return fail(err)
	}

	state = StateComposing
	sink.Emit("Composing drafts...")
	drafts := make(map[platform.Platform]string, len(p.strategies))
	for _, strategy := range p.strategies {
		pl := strategy.Platform()
		drafts[pl] = p.composer.Compose(ctx, extraction.Text, extraction.Entities, handles[pl], pl, sink)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	state = StateCompleted
	logger.Info("drafting run finished", zap.String("state", string(state)), zap.Int("entities", len(extraction.Entities)))
	return Result{Drafts: drafts, Handles: handles}, nil
}

func (p *Pipeline) resolveAll(ctx context.Context, entities map[string]string, sink ProgressSink) (map[platform.Platform]Handles, error) {
	out := make(map[platform.Platform]Handles, len(p.strategies))
	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, strategy := range p.strategies {
		g.Go(func() error {
			handles, err := p.resolver.Resolve(ctx, entities, strategy, sink)
			if err != nil {
				return fmt.Errorf("resolve %s handles: %w", strategy.Platform(), err)
			}
			mu.Lock()
			out[strategy.Platform()] = handles
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Result) wire() (map[string]string, map[string]map[string]*string) {
	drafts := make(map[string]string, len(r.Drafts))
	for p, draft := range r.Drafts {
		drafts[p.String()] = draft
	}
	handles := make(map[string]map[string]*string, len(r.Handles))
	for p, h := range r.Handles {
		handles[p.String()] = map[string]*string(h)
	}
	return drafts, handles
}
