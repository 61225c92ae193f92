package types

// Environment is the capability an oracle script runs against. It supplies the
// calldata and request parameters, receives the return data, and mediates
// every external data request. Implementations outlive a single run and may be
// shared between runs if they serialize access internally.
type Environment interface {
	GetCallData() []byte
	SetReturnData(data []byte) error
	GetAskCount() int64
	GetMinCount() int64
	GetAnsCount() int64
	AskExternalData(eid, did int64, data []byte) error
	GetExternalDataStatus(eid, vid int64) (int64, error)
	GetExternalData(eid, vid int64) ([]byte, error)
}

// External data statuses used by the environments in this module. The set is
// owned by the Environment; the VM passes the value through untouched.
const (
	ExternalDataUnknown int64 = -1
	ExternalDataPending int64 = 0
	ExternalDataOk      int64 = 1
	ExternalDataFailed  int64 = 2
)

// RawRequest is an external data request emitted during the prepare phase.
type RawRequest struct {
	ExternalID int64  `json:"external_id"`
	DataID     int64  `json:"data_id"`
	Calldata   []byte `json:"calldata"`
}

// Report is one resolved answer for an external data request.
type Report struct {
	ExternalID  int64  `json:"external_id"`
	ValidatorID int64  `json:"validator_id"`
	Status      int64  `json:"status"`
	Data        []byte `json:"data"`
}
