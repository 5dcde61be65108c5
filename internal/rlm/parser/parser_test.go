package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_Scenario4(t *testing.T) {
	input := "A\n```py\nprint(1)\n```\nB\n```unknown\nx\n```\nC\n```rust\nfn main(){}\n```"

	blocks := Extract(input)

	assert.Equal(t, []Block{
		{Language: "python", Source: "print(1)"},
		{Language: "rust", Source: "fn main(){}"},
	}, blocks)
}

func TestExtract_TildeFence(t *testing.T) {
	input := "~~~bash\necho hi\n~~~"

	blocks := Extract(input)

	assert.Equal(t, []Block{{Language: "bash", Source: "echo hi"}}, blocks)
}

func TestExtract_MixedFenceOrderPreserved(t *testing.T) {
	input := "~~~bash\necho one\n~~~\n" +
		"```python\nprint(2)\n```\n" +
		"~~~sh\necho three\n~~~"

	blocks := Extract(input)

	assert.Equal(t, []Block{
		{Language: "bash", Source: "echo one"},
		{Language: "python", Source: "print(2)"},
		{Language: "bash", Source: "echo three"},
	}, blocks)
}

func TestExtract_NoBlocks(t *testing.T) {
	assert.Empty(t, Extract("just plain text, no fences"))
}

func TestExtract_EmptyInput(t *testing.T) {
	assert.Empty(t, Extract(""))
}

func TestNormalize_Aliases(t *testing.T) {
	cases := map[string]string{
		"py":     "python",
		"JS":     "javascript",
		"Rs":     "rust",
		"sh":     "bash",
		"python": "python",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in))
	}
}

func TestExtract_MissingLanguageTagDiscarded(t *testing.T) {
	input := "```\nno language here\n```"
	assert.Empty(t, Extract(input))
}
