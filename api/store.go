package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/bandprotocol/go-owasm/types"
)

// Key layout, all under the request id:
//
//	req/<id>/header             -> Request
//	req/<id>/raw/<eid>          -> types.RawRequest
//	req/<id>/report/<eid>/<vid> -> types.Report
//	req/<id>/validator/<vid>    -> empty, one per validator that reported
//	req/<id>/result             -> return data
var (
	requestPrefix   = []byte("req/")
	headerKey       = []byte("header")
	rawPrefix       = []byte("raw/")
	reportPrefix    = []byte("report/")
	validatorPrefix = []byte("validator/")
	resultKey       = []byte("result")
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrRequestExists   = errors.New("request already exists")
	ErrAlreadyAsked    = errors.New("external id already asked")
	ErrReportNotFound  = errors.New("report not found")
)

// Request is the stored part of an oracle request the script can see.
type Request struct {
	Calldata []byte `json:"calldata"`
	AskCount int64  `json:"ask_count"`
	MinCount int64  `json:"min_count"`
}

// int64Key flips the sign bit so that negative ids sort before positive ones.
func int64Key(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63))
}

func requestKey(id uint64, parts ...[]byte) []byte {
	key := append([]byte(nil), requestPrefix...)
	key = binary.BigEndian.AppendUint64(key, id)
	key = append(key, '/')
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func setJSON(db dbm.DB, key []byte, v any) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Set(key, bz)
}

func getJSON(db dbm.DB, key []byte, v any) (bool, error) {
	bz, err := db.Get(key)
	if err != nil || bz == nil {
		return false, err
	}
	return true, json.Unmarshal(bz, v)
}

// CreateRequest stores a new oracle request under id.
func CreateRequest(db dbm.DB, id uint64, req Request) error {
	key := requestKey(id, headerKey)
	exists, err := db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrRequestExists, id)
	}
	return setJSON(db, key, req)
}

// AddReport stores the answer of a validator for one external data request
// of id, replacing an earlier answer from the same validator.
func AddReport(db dbm.DB, id uint64, report types.Report) error {
	if ok, err := db.Has(requestKey(id, headerKey)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	batch := db.NewBatch()
	defer batch.Close()
	bz, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := batch.Set(requestKey(id, reportPrefix, int64Key(report.ExternalID), []byte("/"), int64Key(report.ValidatorID)), bz); err != nil {
		return err
	}
	if err := batch.Set(requestKey(id, validatorPrefix, int64Key(report.ValidatorID)), []byte{}); err != nil {
		return err
	}
	return batch.Write()
}

// StoreEnv is an Environment over one request persisted in a cometbft-db
// database. The request header and the answer count are read when it is
// opened.
type StoreEnv struct {
	mu       sync.Mutex
	db       dbm.DB
	id       uint64
	request  Request
	ansCount int64
}

var _ types.Environment = (*StoreEnv)(nil)

// OpenStoreEnv loads request id from db.
func OpenStoreEnv(db dbm.DB, id uint64) (*StoreEnv, error) {
	env := &StoreEnv{db: db, id: id}
	found, err := getJSON(db, requestKey(id, headerKey), &env.request)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	it, err := dbm.IteratePrefix(db, requestKey(id, validatorPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		env.ansCount++
	}
	return env, it.Error()
}

func (e *StoreEnv) GetCallData() []byte {
	return e.request.Calldata
}

func (e *StoreEnv) SetReturnData(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Set(requestKey(e.id, resultKey), append([]byte{}, data...))
}

func (e *StoreEnv) GetAskCount() int64 {
	return e.request.AskCount
}

func (e *StoreEnv) GetMinCount() int64 {
	return e.request.MinCount
}

func (e *StoreEnv) GetAnsCount() int64 {
	return e.ansCount
}

// AskExternalData records a raw request. Each external id may be asked once.
func (e *StoreEnv) AskExternalData(eid, did int64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := requestKey(e.id, rawPrefix, int64Key(eid))
	exists, err := e.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrAlreadyAsked, eid)
	}
	return setJSON(e.db, key, types.RawRequest{ExternalID: eid, DataID: did, Calldata: data})
}

func (e *StoreEnv) report(eid, vid int64) (types.Report, bool, error) {
	var r types.Report
	found, err := getJSON(e.db, requestKey(e.id, reportPrefix, int64Key(eid), []byte("/"), int64Key(vid)), &r)
	return r, found, err
}

// GetExternalDataStatus returns the reported status, ExternalDataPending for
// an asked external id without a report from vid, and ExternalDataUnknown
// otherwise.
func (e *StoreEnv) GetExternalDataStatus(eid, vid int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, found, err := e.report(eid, vid)
	if err != nil {
		return 0, err
	}
	if found {
		return r.Status, nil
	}
	asked, err := e.db.Has(requestKey(e.id, rawPrefix, int64Key(eid)))
	if err != nil {
		return 0, err
	}
	if asked {
		return types.ExternalDataPending, nil
	}
	return types.ExternalDataUnknown, nil
}

func (e *StoreEnv) GetExternalData(eid, vid int64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, found, err := e.report(eid, vid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: external id %d validator %d", ErrReportNotFound, eid, vid)
	}
	return r.Data, nil
}

// AskedRequests returns the raw requests made for this request, ordered by
// external id.
func (e *StoreEnv) AskedRequests() ([]types.RawRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := dbm.IteratePrefix(e.db, requestKey(e.id, rawPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []types.RawRequest
	for ; it.Valid(); it.Next() {
		var raw types.RawRequest
		if err := json.Unmarshal(it.Value(), &raw); err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, it.Error()
}

// Result returns the last return data set for this request, or nil.
func (e *StoreEnv) Result() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Get(requestKey(e.id, resultKey))
}
