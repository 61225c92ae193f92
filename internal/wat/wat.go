// Package wat converts the WebAssembly text format to binary.
package wat

import (
	"fmt"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Kind classifies a conversion failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindResolveNames
	KindWriteBinary
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindResolveNames:
		return "resolve names"
	case KindWriteBinary:
		return "write binary"
	}
	return "unknown"
}

// Error is returned by ToBinary.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wat %s error: %s", e.Kind, e.Msg)
}

// Markers the text parser uses when an identifier cannot be bound.
var resolveMarkers = []string{
	"failed to find",
	"duplicate identifier",
	"duplicate func",
	"duplicate local",
	"unknown label",
}

func classify(msg string) Kind {
	if strings.TrimSpace(msg) == "" {
		return KindUnknown
	}
	lower := strings.ToLower(msg)
	for _, marker := range resolveMarkers {
		if strings.Contains(lower, marker) {
			return KindResolveNames
		}
	}
	return KindParse
}

// wat2wasm is the converter used by ToBinary.
var wat2wasm = wasmer.Wat2Wasm

// ToBinary converts text to a wasm binary. The output is not validated.
//
// wasmer-go reports parse and name resolution failures as one message, which
// is classified by its text. Its encoder has no failure of its own, so
// KindWriteBinary is only returned when the converter produces no bytes.
func ToBinary(text []byte) ([]byte, error) {
	out, err := wat2wasm(string(text))
	if err != nil {
		return nil, &Error{Kind: classify(err.Error()), Msg: err.Error()}
	}
	if len(out) == 0 {
		return nil, &Error{Kind: KindWriteBinary, Msg: "empty output"}
	}
	return out, nil
}

// MustToBinary is ToBinary for fixtures known to be well formed.
func MustToBinary(text string) []byte {
	out, err := ToBinary([]byte(text))
	if err != nil {
		panic(err)
	}
	return out
}
