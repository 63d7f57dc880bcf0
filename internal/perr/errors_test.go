package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(UsageError, "missing output path", nil)
	assert.Equal(t, "usage_error: missing output path", plain.Error())

	wrapped := New(IoFailed, "", errors.New("disk full"))
	assert.Equal(t, "io_failed: disk full", wrapped.Error())

	both := New(DecodeFailed, "line 12", errors.New("bad token"))
	assert.Equal(t, "decode_failed: line 12: bad token", both.Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := New(ResourceExhausted, "spool write", inner)
	assert.Equal(t, inner, errors.Unwrap(e))
}

func TestIsMatchesKind(t *testing.T) {
	e := New(DuplicateID, "", nil)
	assert.True(t, Is(e, DuplicateID))
	assert.False(t, Is(e, ResumeMissing))
	assert.False(t, Is(errors.New("plain"), DuplicateID))
}
