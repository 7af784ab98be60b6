package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"wrapped adapter error keeps its kind", fmt.Errorf("invoke: %w", newError(KindTransient, "boom")), KindTransient},
		{"timeout error", newError(KindTimeout, "slow"), KindTimeout},
		{"bare deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"unclassified error", errors.New("mystery"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "question", composePrompt(Request{Prompt: "question"}))
	assert.Equal(t, "memory\n\nquestion", composePrompt(Request{Prompt: "question", Context: "memory"}))
}

func TestCheckLength(t *testing.T) {
	assert.NoError(t, checkLength("short", 10))
	assert.NoError(t, checkLength("anything goes", 0))

	err := checkLength("way too long", 5)
	assert.ErrorIs(t, err, ErrPromptTooLong)
	assert.Equal(t, KindFatal, Classify(err))
}
