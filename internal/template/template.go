package template

import (
	"strings"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// Message is the conversation-turn record the template binds as elements
// of the "messages" list.
type Message struct {
	Role    string
	Content string
}

// Template is a parsed chat_template program, ready to render against a
// message list.
type Template struct {
	prog []node
}

// New parses src. An empty src is treated as "no template present" and
// reported via nerr.ErrTemplateMissing, matching spec.md §4.3: the core
// never synthesises a default.
func New(src string) (*Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &templateMissingError{}
	}
	prog, err := parse(src)
	if err != nil {
		return nil, &nerr.TemplateRenderError{Detail: "parse", Cause: err}
	}
	return &Template{prog: prog}, nil
}

type templateMissingError struct{}

func (e *templateMissingError) Error() string { return "no chat_template" }
func (e *templateMissingError) Unwrap() error { return nerr.ErrTemplateMissing }

// Apply renders the template against messages, returning the produced
// prompt string.
func (t *Template) Apply(messages []Message) (string, error) {
	env := map[string]any{"messages": toEnvList(messages)}
	var sb strings.Builder
	if err := evalBlock(t.prog, env, &sb); err != nil {
		return "", &nerr.TemplateRenderError{Detail: "render", Cause: err}
	}
	return sb.String(), nil
}

func toEnvList(messages []Message) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
