package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"thinking tag", "<thinking>X</thinking>Y", "Y"},
		{"think tag with attrs", `<think type="deep">plan</think>Answer`, "Answer"},
		{"uppercase tag", "<REASONING>a\nb</REASONING>\nDone", "Done"},
		{"all tag names", "<thought>a</thought><reflection>b</reflection><inner_monologue>c</inner_monologue><scratchpad>d</scratchpad>ok", "ok"},
		{"unterminated leading tag", "<thinking>cut off mid-thought", ""},
		{"unterminated leading tag after space", "\n <think type=\"x\">partial", ""},
		{"tag mentioned mid-text", "Hello <thinking> and the rest", "Hello <thinking> and the rest"},
		{"prompting advice kept", "Wrap hidden steps in a <thinking> tag when prompting. Then the model answers normally and you keep the answer.", "Wrap hidden steps in a <thinking> tag when prompting. Then the model answers normally and you keep the answer."},
		{"closed span before stray mention", "<think>x</think>Use a <reasoning> tag", "Use a <reasoning> tag"},
		{"does not eat lookalike", "<thinker>kept</thinker>", "<thinker>kept</thinker>"},
		{"cjk brackets", "【思考】内部推理【/思考】你好", "你好"},
		{"square markers", "[thinking]hmm[/thinking]Sure.", "Sure."},
		{"fullwidth parens", "（思考：先想一想）结论", "结论"},
		{"ascii parens", "(thinking: step one) Result", "Result"},
		{"fenced block", "```thinking\nsecret\n```\nVisible", "Visible"},
		{"fenced code kept", "```go\nfmt.Println()\n```", "```go\nfmt.Println()\n```"},
		{"collapse newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"newlines left by removal", "a\n<think>x</think>\n\n\nb", "a\n\nb"},
		{"trim", "  \n text \n ", "text"},
		{"only reasoning", "<thinking>all of it</thinking>", ""},
		{"nested splice", "<thi<think>x</think>nk>y</think>z", "z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"<thinking>X</thinking>Y",
		"a\n\n\n<think>\n\n\n</think>\n\n\nb",
		"<thi<think>x</think>nk>y</think>z",
		"<think>a</think>  <thinking>tail",
		"see <scratchpad> usage",
		"【思考】a【/思考】\n\n\n\n[reasoning]b[/reasoning] c",
		"```reasoning\nq\n```\n\n\n\n(思考: x) tail  ",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank(" \n\t"))
	assert.True(t, IsBlank(Clean("<think>only</think>")))
	assert.False(t, IsBlank("x"))
}
