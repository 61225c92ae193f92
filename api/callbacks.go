package api

import (
	"errors"

	"github.com/bandprotocol/go-owasm/types"
)

// ErrCallbackMissing is returned by a CallbackEnv operation whose callback is nil.
var ErrCallbackMissing = errors.New("callback not set")

type (
	CallDataFunc           func() []byte
	SetReturnDataFunc      func(data []byte) error
	CountFunc              func() int64
	AskExternalDataFunc    func(eid, did int64, data []byte) error
	ExternalDataStatusFunc func(eid, vid int64) (int64, error)
	ExternalDataFunc       func(eid, vid int64) ([]byte, error)
)

// CallbackEnv is an Environment assembled from callbacks, typically closures
// over the oracle keeper of the calling chain. A nil count or calldata
// callback reads as zero or empty; a nil callback that can fail returns
// ErrCallbackMissing.
type CallbackEnv struct {
	CallData           CallDataFunc
	SetReturn          SetReturnDataFunc
	AskCount           CountFunc
	MinCount           CountFunc
	AnsCount           CountFunc
	AskExternal        AskExternalDataFunc
	ExternalDataStatus ExternalDataStatusFunc
	ExternalData       ExternalDataFunc
}

var _ types.Environment = CallbackEnv{}

func (e CallbackEnv) GetCallData() []byte {
	if e.CallData == nil {
		return nil
	}
	return e.CallData()
}

func (e CallbackEnv) SetReturnData(data []byte) error {
	if e.SetReturn == nil {
		return ErrCallbackMissing
	}
	return e.SetReturn(data)
}

func count(f CountFunc) int64 {
	if f == nil {
		return 0
	}
	return f()
}

func (e CallbackEnv) GetAskCount() int64 {
	return count(e.AskCount)
}

func (e CallbackEnv) GetMinCount() int64 {
	return count(e.MinCount)
}

func (e CallbackEnv) GetAnsCount() int64 {
	return count(e.AnsCount)
}

func (e CallbackEnv) AskExternalData(eid, did int64, data []byte) error {
	if e.AskExternal == nil {
		return ErrCallbackMissing
	}
	return e.AskExternal(eid, did, data)
}

func (e CallbackEnv) GetExternalDataStatus(eid, vid int64) (int64, error) {
	if e.ExternalDataStatus == nil {
		return 0, ErrCallbackMissing
	}
	return e.ExternalDataStatus(eid, vid)
}

func (e CallbackEnv) GetExternalData(eid, vid int64) ([]byte, error) {
	if e.ExternalData == nil {
		return nil, ErrCallbackMissing
	}
	return e.ExternalData(eid, vid)
}
