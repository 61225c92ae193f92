package wat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBinary(t *testing.T) {
	out, err := ToBinary([]byte(`(module (func (export "execute")))`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, out[:4])
}

func TestToBinaryParseError(t *testing.T) {
	_, err := ToBinary([]byte(`(module (func (export "execute") (i32.bogus)))`))
	require.Error(t, err)
	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, KindParse, werr.Kind)
}

func TestToBinaryResolveError(t *testing.T) {
	_, err := ToBinary([]byte(`(module (func (export "execute") call $missing))`))
	require.Error(t, err)
	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, KindResolveNames, werr.Kind)
}

func TestToBinaryEmptyOutput(t *testing.T) {
	defer func(orig func(string) ([]byte, error)) { wat2wasm = orig }(wat2wasm)
	wat2wasm = func(string) ([]byte, error) { return nil, nil }

	_, err := ToBinary([]byte(`(module)`))
	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, KindWriteBinary, werr.Kind)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindUnknown, classify("  "))
	assert.Equal(t, KindResolveNames, classify("failed to find func named `$foo`"))
	assert.Equal(t, KindParse, classify("expected `(`"))
}

func TestMustToBinaryPanics(t *testing.T) {
	assert.Panics(t, func() { MustToBinary("(module") })
}
