package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noxlabs/noxrun/internal/nerr"
)

func TestNewEmptySourceIsTemplateMissing(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, nerr.ErrTemplateMissing)
}

func TestApplyRendersLoopAndFields(t *testing.T) {
	tpl, err := New(`{% for m in messages %}[{{ m.role }}] {{ m.content }}
{% endfor %}`)
	require.NoError(t, err)

	out, err := tpl.Apply([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "[system] be terse\n[user] hi\n", out)
}

func TestApplyIfElse(t *testing.T) {
	tpl, err := New(`{% if messages %}has messages{% else %}empty{% endif %}`)
	require.NoError(t, err)

	out, err := tpl.Apply(nil)
	require.NoError(t, err)
	require.Equal(t, "empty", out)

	out, err = tpl.Apply([]Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, "has messages", out)
}
