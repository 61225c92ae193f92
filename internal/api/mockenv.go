package api

import (
	"fmt"
	"sync"

	"github.com/bandprotocol/go-owasm/types"
)

/***** Mock types.Environment ****/

type externalKey struct {
	eid int64
	vid int64
}

// MockEnv is an in-memory Environment. External data status follows the
// reports added to it: a reported key answers with its status, an asked but
// unreported one is pending and anything else is unknown.
type MockEnv struct {
	mu sync.Mutex

	calldata []byte
	askCount int64
	minCount int64
	ansCount int64

	asked      []types.RawRequest
	reports    map[externalKey]types.Report
	returnData []byte
	returnSet  bool
}

var _ types.Environment = (*MockEnv)(nil)

// NewMockEnv creates an environment serving calldata and the given counts.
func NewMockEnv(calldata []byte, askCount, minCount, ansCount int64) *MockEnv {
	return &MockEnv{
		calldata: calldata,
		askCount: askCount,
		minCount: minCount,
		ansCount: ansCount,
		reports:  make(map[externalKey]types.Report),
	}
}

// AddReport records the answer of validator r.ValidatorID for r.ExternalID.
func (e *MockEnv) AddReport(r types.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports[externalKey{r.ExternalID, r.ValidatorID}] = r
}

// AskedRequests returns the raw requests made so far, in order.
func (e *MockEnv) AskedRequests() []types.RawRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.RawRequest(nil), e.asked...)
}

// ReturnData returns the last data set by the script and whether any was set.
func (e *MockEnv) ReturnData() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.returnData, e.returnSet
}

func (e *MockEnv) GetCallData() []byte {
	return e.calldata
}

func (e *MockEnv) SetReturnData(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.returnData = append([]byte(nil), data...)
	e.returnSet = true
	return nil
}

func (e *MockEnv) GetAskCount() int64 {
	return e.askCount
}

func (e *MockEnv) GetMinCount() int64 {
	return e.minCount
}

func (e *MockEnv) GetAnsCount() int64 {
	return e.ansCount
}

func (e *MockEnv) AskExternalData(eid, did int64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, req := range e.asked {
		if req.ExternalID == eid {
			return fmt.Errorf("external id %d already asked", eid)
		}
	}
	e.asked = append(e.asked, types.RawRequest{
		ExternalID: eid,
		DataID:     did,
		Calldata:   append([]byte(nil), data...),
	})
	return nil
}

func (e *MockEnv) GetExternalDataStatus(eid, vid int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.reports[externalKey{eid, vid}]; ok {
		return r.Status, nil
	}
	for _, req := range e.asked {
		if req.ExternalID == eid {
			return types.ExternalDataPending, nil
		}
	}
	return types.ExternalDataUnknown, nil
}

func (e *MockEnv) GetExternalData(eid, vid int64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reports[externalKey{eid, vid}]
	if !ok {
		return nil, fmt.Errorf("no report from validator %d for external id %d", vid, eid)
	}
	return r.Data, nil
}
