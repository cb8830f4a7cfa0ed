package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind and message",
			err:  New(ErrKindIndex, "row 3 out of range [0,1)"),
			want: "[index_out_of_range] row 3 out of range [0,1)",
		},
		{
			name: "with op",
			err:  Op("Result.Get", ErrKindNullValue, "cell (0,0) is NULL"),
			want: "[null_value] Result.Get: cell (0,0) is NULL",
		},
		{
			name: "native message and sqlstate",
			err: &Error{
				Kind:     ErrKindQuery,
				Op:       "Execute",
				Message:  "statement failed",
				Native:   `syntax error at or near "BAD"`,
				SQLState: "42601",
			},
			want: `[query_failed] Execute: statement failed: syntax error at or near "BAD" (SQLSTATE 42601)`,
		},
		{
			name: "cause when no native message",
			err:  Wrap(ErrKindConnection, "dial failed", errors.New("connection refused")),
			want: "[connection_failed] dial failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(ErrKindQuery, "failed", cause))

	assert.ErrorIs(t, err, cause)

	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, ErrKindQuery, e.Kind)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		kind ErrKind
		pred func(error) bool
	}{
		{ErrKindConnection, IsConnectionFailed},
		{ErrKindQuery, IsQueryFailed},
		{ErrKindParameterCount, IsParameterCount},
		{ErrKindEncoding, IsEncoding},
		{ErrKindTypeMismatch, IsTypeMismatch},
		{ErrKindNullValue, IsNullValue},
		{ErrKindIndex, IsIndexOutOfRange},
		{ErrKindUseAfterFree, IsUseAfterFree},
		{ErrKindTimeout, IsTimeout},
		{ErrKindInvalidInput, IsInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", New(tt.kind, "x"))
			assert.True(t, tt.pred(err))
			assert.False(t, tt.pred(errors.New("plain")))
			assert.False(t, tt.pred(nil))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrKindUnknown, KindOf(nil))
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, ErrKindEncoding, KindOf(New(ErrKindEncoding, "bad utf-8")))
	assert.Equal(t, "unknown", ErrKind(99).String())
}
