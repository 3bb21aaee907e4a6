package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(ErrorTypeFatal, "", "bad json"), "fatal error: bad json"},
		{&Error{Type: ErrorTypeTransient, Op: "search", Item: "react", Code: 503, Message: "unavailable"},
			"search: transient [react] error (code 503): unavailable"},
		{Wrap(ErrorTypeCorrupt, "results.load", stderrors.New("unexpected EOF")), "results.load: corrupt error: unexpected EOF"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("page 3: %w", New(ErrorTypeNotFound, "versions", "gone"))

	assert.Equal(t, ErrorType(""), TypeOf(nil))
	assert.Equal(t, ErrorTypeNotFound, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeFatal, TypeOf(stderrors.New("plain")))

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.True(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsCorrupt(Wrap(ErrorTypeCorrupt, "load", stderrors.New("x"))))
}

func TestIsCheckpointFatal(t *testing.T) {
	fatal := Wrap(ErrorTypeFatal, "checkpoint.save", fmt.Errorf("%w: disk full", ErrCheckpoint))
	recoverable := Wrap(ErrorTypeTransient, "checkpoint.save", ErrCheckpoint)

	assert.True(t, IsCheckpointFatal(fatal))
	assert.False(t, IsCheckpointFatal(recoverable))
	assert.False(t, IsCheckpointFatal(New(ErrorTypeFatal, "search", "bad json")))
}

func TestClassifyStatus(t *testing.T) {
	want := map[int]ErrorType{
		0:   ErrorTypeTransient,
		401: ErrorTypeFatal,
		403: ErrorTypeFatal,
		404: ErrorTypeNotFound,
		408: ErrorTypeTransient,
		429: ErrorTypeTransient,
		500: ErrorTypeTransient,
		503: ErrorTypeTransient,
	}
	for code, typ := range want {
		assert.Equal(t, typ, ClassifyStatus(code), "status %d", code)
	}
	assert.True(t, IsRetryable(ErrorTypeTransient))
	assert.False(t, IsRetryable(ErrorTypeNotFound))
}
