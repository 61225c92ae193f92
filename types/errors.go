package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of terminal statuses returned by compile, run
// and text conversion. Every error crossing the package boundary is exactly
// one of these values. The numeric values are stable.
type ErrorCode int32

const (
	NoError ErrorCode = iota
	ParseError
	WriteBinaryError
	ResolveNamesError
	ValidateError
	DeserializationError
	GasCounterInjectionError
	SerializationError
	CompilationError
	FunctionNotFoundError
	GasLimitExceedError
	RunError
	UnknownError
)

var _ error = ErrorCode(0)

var errorCodeNames = map[ErrorCode]string{
	NoError:                  "no error",
	ParseError:               "parse error",
	WriteBinaryError:         "write binary error",
	ResolveNamesError:        "resolve names error",
	ValidateError:            "validate error",
	DeserializationError:     "deserialization error",
	GasCounterInjectionError: "gas counter injection error",
	SerializationError:       "serialization error",
	CompilationError:         "compilation error",
	FunctionNotFoundError:    "function not found error",
	GasLimitExceedError:      "gas limit exceeded",
	RunError:                 "run error",
	UnknownError:             "unknown error",
}

func (c ErrorCode) Error() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown error code %d", int32(c))
}

// Valid reports whether c belongs to the enumeration.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// IsCompileTime reports whether c is one of the instrumentation failures.
func (c ErrorCode) IsCompileTime() bool {
	switch c {
	case ValidateError, DeserializationError, GasCounterInjectionError, SerializationError:
		return true
	}
	return false
}

// ToCode reduces err to its ErrorCode. A nil error is NoError and any error
// that does not carry a code is UnknownError.
func ToCode(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return UnknownError
}

// AsError is the inverse of ToCode: NoError becomes nil.
func AsError(code ErrorCode) error {
	if code == NoError {
		return nil
	}
	return code
}
