package escrow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	retryable := MarkRetryable("create", errors.New("connection reset"))
	rejected := MarkRejected("withdraw", "timelock not elapsed")

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRejected(retryable))

	assert.True(t, IsRejected(rejected))
	assert.False(t, IsRetryable(rejected))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRejected(nil))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := MarkRetryable("cancel", errors.New("timeout"))
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	assert.True(t, IsRetryable(wrapped))
}
