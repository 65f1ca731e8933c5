package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeInsufficientFunds, "user %d short by %s", 7, "1.5")
	wrapped := fmt.Errorf("Worker.place: %w", err)

	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.NotErrorIs(t, wrapped, ErrPriceDeviation)
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeReverted, cause, "revert order 9")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrReverted)
	assert.Contains(t, err.Error(), "disk full")
}
