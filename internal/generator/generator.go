// Package generator owns the model, tokenizer, chat template, sampler,
// and kv-cache diagnostics for one conversation, running prefill and
// autoregressive decode while streaming events to a caller callback.
package generator

import (
	"fmt"
	"log/slog"

	"github.com/noxlabs/noxrun/internal/kvcache"
	"github.com/noxlabs/noxrun/internal/model"
	"github.com/noxlabs/noxrun/internal/sampler"
	"github.com/noxlabs/noxrun/internal/template"
	"github.com/noxlabs/noxrun/internal/tokenizer"
)

// EventKind tags a streamed generation event.
type EventKind int

const (
	EventPrefillStatus EventKind = iota
	EventToken
	EventDone
)

// Event is one entry in the PrefillStatus -> Token* -> Done stream a
// Generate call emits to its callback, strictly in that order.
type Event struct {
	Kind             EventKind
	PromptTokenCount int
	Text             string
}

// Callback receives the event stream for one Generate call.
type Callback func(Event)

// Options constructs a Generator.
type Options struct {
	ModelPath     string
	TokenizerPath string // optional; empty uses the model's embedded tokenizer
	Temperature   float32
	TopK          int
	TopP          float32
	Seed          int64
	SystemPrompt  string
	Logger        *slog.Logger
}

// Generator owns all per-conversation state. It is single-writer: callers
// funnel concurrent access through a mutex held only by the batcher's
// blocking dispatch (internal/batcher), never by Generator itself.
type Generator struct {
	mdl *model.Model
	tok *tokenizer.Tokenizer
	tpl *template.Template
	smp *sampler.Sampler
	log *slog.Logger

	messages      []template.Message
	tokenHistory  []int32
	systemPrompt  string
	contextLength int
	diagCache     *kvcache.Cache
}

// New constructs a Generator: memory-maps the model, builds its metadata,
// constructs the chat template (failing early if the model carries none),
// builds or loads the tokenizer, and builds the sampler.
func New(opts Options) (*Generator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mdl, err := model.Load(opts.ModelPath, nil)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	tpl, err := template.New(mdl.Metadata.ChatTemplate)
	if err != nil {
		_ = mdl.Close()
		return nil, err
	}

	var tok *tokenizer.Tokenizer
	if opts.TokenizerPath != "" {
		tok, err = tokenizer.FromDescriptorFile(opts.TokenizerPath, mdl.Metadata.Architecture)
	} else {
		tok, err = tokenizer.FromGGUF(mdl.Path, mdl.RawContent(), mdl.Metadata.Architecture)
	}
	if err != nil {
		_ = mdl.Close()
		return nil, err
	}

	var sampOpts []sampler.Option
	if opts.TopK > 0 {
		sampOpts = append(sampOpts, sampler.WithTopK(opts.TopK))
	}
	if opts.TopP > 0 {
		sampOpts = append(sampOpts, sampler.WithTopP(opts.TopP))
	}
	smp := sampler.New(opts.Temperature, opts.Seed, sampOpts...)

	g := &Generator{
		mdl:           mdl,
		tok:           tok,
		tpl:           tpl,
		smp:           smp,
		log:           logger,
		systemPrompt:  opts.SystemPrompt,
		contextLength: int(mdl.Metadata.ContextLength),
		diagCache:     kvcache.New(1, int(mdl.Metadata.NEmbd), int(mdl.Metadata.ContextLength)),
	}
	g.tokenHistory = make([]int32, 0, g.contextLength)
	return g, nil
}

// Close releases the underlying model's memory map.
func (g *Generator) Close() error {
	return g.mdl.Close()
}

// Warmup runs Forward on min(n, 512) zero tokens in strides of 64 to
// trigger first-use allocations. Failures are logged, not returned.
func (g *Generator) Warmup(n int) {
	if n > 512 {
		n = 512
	}
	const stride = 64
	g.mdl.Reset()
	for done := 0; done < n; done += stride {
		width := stride
		if done+width > n {
			width = n - done
		}
		toks := make([]int32, width)
		if _, err := g.mdl.Forward(toks, done); err != nil {
			g.log.Warn("warmup forward failed", "error", err)
			return
		}
	}
}

// ContextUsed is the number of tokens currently committed to history.
func (g *Generator) ContextUsed() int { return len(g.tokenHistory) }

// ContextLimit is the model's context window size.
func (g *Generator) ContextLimit() int { return g.contextLength }

// ContextPercentage is 100*used/limit.
func (g *Generator) ContextPercentage() float64 {
	if g.contextLength == 0 {
		return 0
	}
	return 100 * float64(len(g.tokenHistory)) / float64(g.contextLength)
}

// ContextWarning reports whether context usage has crossed 80%.
func (g *Generator) ContextWarning() bool { return g.ContextPercentage() >= 80 }

// ClearHistory empties messages and token history but keeps the model and
// tokenizer loaded.
func (g *Generator) ClearHistory() {
	g.messages = g.messages[:0]
	g.tokenHistory = g.tokenHistory[:0]
	g.mdl.Reset()
	g.diagCache.Reset()
}

// fullMessageList prepends the system prompt, when configured, to the
// committed conversation.
func (g *Generator) fullMessageList() []template.Message {
	if g.systemPrompt == "" {
		return g.messages
	}
	out := make([]template.Message, 0, len(g.messages)+1)
	out = append(out, template.Message{Role: "system", Content: g.systemPrompt})
	out = append(out, g.messages...)
	return out
}

// truncate applies spec.md §4.6 step 4's context budget to history,
// returning the (possibly shortened) history to use for this turn.
func truncate(history []int32, promptLen, maxTokens, contextLength int) []int32 {
	total := len(history) + promptLen + maxTokens
	if total <= contextLength {
		return history
	}
	excess := total - contextLength
	if excess < len(history) {
		return history[excess:]
	}
	return history[:0]
}
