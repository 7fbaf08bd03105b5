package dberr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetKind(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{Format("bad magic"), KindFormat},
		{Corruption("torn block"), KindCorruption},
		{InvalidArgument("wrong key size"), KindInvalidArgument},
		{InvalidState("already closed"), KindInvalidState},
		{NotFound("no such path"), KindNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, tc.err.Kind)
		assert.True(t, Is(tc.err, tc.kind))
	}
}

func TestIOWrapsUnderlyingError(t *testing.T) {
	err := IO(io.ErrUnexpectedEOF, "read block")
	require.Error(t, err)
	assert.True(t, Is(err, KindIO))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestIONilIsNil(t *testing.T) {
	assert.NoError(t, IO(nil, "read block"))
}

func TestWrapPreservesKind(t *testing.T) {
	original := Corruption("missing continuation block")
	wrapped := Wrap(original, "loading leaf 7")
	assert.True(t, Is(wrapped, KindCorruption))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Contains(t, e.Error(), "loading leaf 7")
}

func TestWrapOfPlainErrorBecomesIO(t *testing.T) {
	wrapped := Wrap(io.EOF, "reading header")
	assert.True(t, Is(wrapped, KindIO))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
}

func TestIsFalseForUnrelatedError(t *testing.T) {
	assert.False(t, Is(io.EOF, KindCorruption))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "format", KindFormat.String())
	assert.Equal(t, "corruption", KindCorruption.String())
	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, "invalid argument", KindInvalidArgument.String())
	assert.Equal(t, "invalid state", KindInvalidState.String())
	assert.Equal(t, "not found", KindNotFound.String())
}
