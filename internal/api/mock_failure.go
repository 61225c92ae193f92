package api

import (
	"fmt"

	"github.com/bandprotocol/go-owasm/types"
)

/***** Mock failing types.Environment ****/

// MockFailureEnv serves calldata and counts like MockEnv but fails every
// request that could change or query chain state.
type MockFailureEnv struct {
	*MockEnv
}

var _ types.Environment = MockFailureEnv{}

// NewMockFailureEnv creates an environment whose mutating and external data
// calls always fail.
func NewMockFailureEnv(calldata []byte) MockFailureEnv {
	return MockFailureEnv{MockEnv: NewMockEnv(calldata, 1, 1, 0)}
}

func (MockFailureEnv) SetReturnData(data []byte) error {
	return fmt.Errorf("mock failure - set_return_data")
}

func (MockFailureEnv) AskExternalData(eid, did int64, data []byte) error {
	return fmt.Errorf("mock failure - ask_external_data")
}

func (MockFailureEnv) GetExternalDataStatus(eid, vid int64) (int64, error) {
	return 0, fmt.Errorf("mock failure - get_external_data_status")
}

func (MockFailureEnv) GetExternalData(eid, vid int64) ([]byte, error) {
	return nil, fmt.Errorf("mock failure - get_external_data")
}
