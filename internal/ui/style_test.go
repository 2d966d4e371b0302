package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainOutput(t *testing.T) {
	prev := Plain
	Plain = true
	defer func() { Plain = prev }()

	var buf bytes.Buffer
	Success(&buf, "stored %q", "a")
	KeyValue(&buf, "size", "3")
	Error(&buf, "failed")

	assert.Equal(t, "✓ stored \"a\"\nsize: 3\n✗ failed\n", buf.String())
	assert.Equal(t, "• 1\n• 2", Members([]string{"1", "2"}))
	assert.Equal(t, "(empty set)", Members(nil))
	assert.Equal(t, "title\nline", Box("title", "line"))
}

func TestWithSpinnerPlain(t *testing.T) {
	prev := Plain
	Plain = true
	defer func() { Plain = prev }()

	var buf bytes.Buffer
	calls := 0
	err := WithSpinner(&buf, "working", func() error {
		calls++
		return errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
	assert.Empty(t, buf.String())
}

func TestSpinnerModel(t *testing.T) {
	m := newSpinnerModel("waiting")
	assert.Contains(t, m.View(), "waiting")

	next, cmd := m.Update(doneMsg{err: errors.New("boom")})
	final := next.(spinnerModel)
	assert.NotNil(t, cmd)
	assert.True(t, final.done)
	assert.EqualError(t, final.err, "boom")
	assert.Empty(t, final.View())
}
