package fold

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold_EmptyInput(t *testing.T) {
	out, stats := Fold("", DefaultTargetRatio)
	assert.Equal(t, "", out)
	assert.Zero(t, stats.FoldedLen)
}

func TestFold_StrictShrinkOnManyLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("line ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
	}
	text := b.String()

	out, stats := Fold(text, DefaultTargetRatio)
	assert.Less(t, len(out), len(text))
	assert.Equal(t, len(text), stats.OriginalLen)
	assert.Equal(t, len(out), stats.FoldedLen)
}

func TestFold_StrictShrinkOnSingleLine(t *testing.T) {
	text := "a single unbroken line with no newlines at all in it"
	out, _ := Fold(text, DefaultTargetRatio)
	assert.Less(t, len(out), len(text))
}

func TestFold_StrictShrinkOnFewLines(t *testing.T) {
	text := "one\ntwo\nthree"
	out, _ := Fold(text, DefaultTargetRatio)
	assert.Less(t, len(out), len(text))
}

func TestFold_PreservesHeadAndTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("L")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
	}
	text := b.String()

	out, _ := Fold(text, 0.5)
	assert.True(t, strings.HasPrefix(out, "L0\n"))
	assert.True(t, strings.HasSuffix(out, "\nL99\n"))
	assert.Less(t, len(out), len(text))
}
