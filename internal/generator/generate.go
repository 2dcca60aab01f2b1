package generator

import (
	"fmt"

	"github.com/noxlabs/noxrun/internal/sampler"
	"github.com/noxlabs/noxrun/internal/template"
)

// Generate runs one conversational turn: renders the chat template over
// messages + prompt, prefills, then autoregressively decodes up to
// maxTokens (or until EOS), streaming PrefillStatus -> Token* -> Done to
// callback. On any error, messages and token_history are left exactly as
// they were before the call (the user turn is rolled back).
func (g *Generator) Generate(prompt string, maxTokens int, repeatPenalty float32, repeatLastN int, callback Callback) (string, error) {
	messagesBefore := len(g.messages)
	g.messages = append(g.messages, template.Message{Role: "user", Content: prompt})

	response, err := g.generate(maxTokens, repeatPenalty, repeatLastN, callback)
	if err != nil {
		g.messages = g.messages[:messagesBefore]
		return "", err
	}
	return response, nil
}

func (g *Generator) generate(maxTokens int, repeatPenalty float32, repeatLastN int, callback Callback) (string, error) {
	rendered, err := g.tpl.Apply(g.fullMessageList())
	if err != nil {
		return "", err
	}
	promptTokens := g.tok.Encode(rendered)

	history := truncate(g.tokenHistory, len(promptTokens), maxTokens, g.contextLength)

	allTokens := make([]int32, 0, len(history)+len(promptTokens)+maxTokens)
	allTokens = append(allTokens, history...)
	allTokens = append(allTokens, promptTokens...)
	historyStart := len(history)

	if callback != nil {
		callback(Event{Kind: EventPrefillStatus, PromptTokenCount: len(promptTokens)})
	}

	g.mdl.Reset()
	g.diagCache.Reset()
	logits, err := g.mdl.Forward(allTokens, 0)
	if err != nil {
		return "", fmt.Errorf("prefill forward: %w", err)
	}

	g.applyPenaltyAndRecordDiag(logits, allTokens, repeatPenalty, repeatLastN)
	first := g.smp.Sample(logits)
	allTokens = append(allTokens, first)
	if frag, ok := g.tok.DecodeNext(first); ok && callback != nil {
		callback(Event{Kind: EventToken, Text: frag})
	}

	eos := g.tok.EOS()
	for count := 1; count < maxTokens && allTokens[len(allTokens)-1] != eos; count++ {
		last := allTokens[len(allTokens)-1]
		pos := len(allTokens) - 1
		logits, err = g.mdl.Forward([]int32{last}, pos)
		if err != nil {
			return "", fmt.Errorf("decode forward: %w", err)
		}

		g.applyPenaltyAndRecordDiag(logits, allTokens, repeatPenalty, repeatLastN)
		next := g.smp.Sample(logits)
		allTokens = append(allTokens, next)
		if frag, ok := g.tok.DecodeNext(next); ok && callback != nil {
			callback(Event{Kind: EventToken, Text: frag})
		}
		if next == eos {
			break
		}
	}

	if tail, ok := g.tok.DecodeRest(); ok && callback != nil {
		callback(Event{Kind: EventToken, Text: tail})
	}
	g.tok.ClearPending()

	g.tokenHistory = allTokens
	responseTokens := allTokens[historyStart+len(promptTokens):]
	response := g.tok.Decode(responseTokens)

	g.messages = append(g.messages, template.Message{Role: "assistant", Content: response})
	if callback != nil {
		callback(Event{Kind: EventDone})
	}
	return response, nil
}

func (g *Generator) applyPenaltyAndRecordDiag(logits []float32, allTokens []int32, repeatPenalty float32, repeatLastN int) {
	start := len(allTokens) - repeatLastN
	if start < 0 {
		start = 0
	}
	sampler.ApplyRepeatPenalty(logits, allTokens[start:], repeatPenalty)

	width := int(g.mdl.Metadata.NEmbd)
	row := make([]float32, width)
	_ = g.diagCache.Append([][]float32{row}, [][]float32{row})
}

// GenerateBatch tokenizes prompts in parallel and runs each through the
// single-sequence pipeline sequentially, without touching conversation
// history or emitting callback events — the entry point the batcher uses.
func (g *Generator) GenerateBatch(prompts []string, maxTokens int, repeatPenalty float32, repeatLastN int) ([]string, error) {
	promptTokens := g.tok.EncodeBatch(prompts)

	out := make([]string, len(prompts))
	for i, toks := range promptTokens {
		resp, err := g.generateStateless(toks, maxTokens, repeatPenalty, repeatLastN)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out[i] = resp
	}
	return out, nil
}

// generateStateless runs the prefill+decode loop for one already-tokenized
// prompt without reading or writing g.messages/g.tokenHistory.
func (g *Generator) generateStateless(promptTokens []int32, maxTokens int, repeatPenalty float32, repeatLastN int) (string, error) {
	g.mdl.Reset()

	allTokens := append([]int32(nil), promptTokens...)
	logits, err := g.mdl.Forward(allTokens, 0)
	if err != nil {
		return "", fmt.Errorf("prefill forward: %w", err)
	}
	prefillStart := len(allTokens) - repeatLastN
	if prefillStart < 0 {
		prefillStart = 0
	}
	sampler.ApplyRepeatPenalty(logits, allTokens[prefillStart:], repeatPenalty)
	allTokens = append(allTokens, g.smp.Sample(logits))

	eos := g.tok.EOS()
	for count := 1; count < maxTokens && allTokens[len(allTokens)-1] != eos; count++ {
		last := allTokens[len(allTokens)-1]
		logits, err = g.mdl.Forward([]int32{last}, len(allTokens)-1)
		if err != nil {
			return "", fmt.Errorf("decode forward: %w", err)
		}
		start := len(allTokens) - repeatLastN
		if start < 0 {
			start = 0
		}
		sampler.ApplyRepeatPenalty(logits, allTokens[start:], repeatPenalty)
		allTokens = append(allTokens, g.smp.Sample(logits))
	}

	return g.tok.Decode(allTokens[len(promptTokens):]), nil
}
