package runtime

import (
	"encoding/hex"

	"github.com/rs/zerolog"
)

// MaxTraceDataSize is the number of bytes of a buffer written to a trace line.
const MaxTraceDataSize = 64

// trace starts a trace level event for a host operation. Nothing is built
// unless the logger is at trace level.
func (l *VMLogic) trace(op string) *zerolog.Event {
	return l.logger.Trace().Str("op", op)
}

// traceData adds data to e, hex encoded and truncated to MaxTraceDataSize.
func traceData(e *zerolog.Event, key string, data []byte) *zerolog.Event {
	if e == nil {
		return e
	}
	e = e.Int(key+"_len", len(data))
	if len(data) > MaxTraceDataSize {
		return e.Str(key, hex.EncodeToString(data[:MaxTraceDataSize])+"...")
	}
	return e.Str(key, hex.EncodeToString(data))
}
