package api

import (
	"errors"
	"math"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandprotocol/go-owasm/types"
)

func withRequest(t *testing.T, id uint64) dbm.DB {
	t.Helper()
	db := dbm.NewMemDB()
	t.Cleanup(func() { db.Close() })
	require.NoError(t, CreateRequest(db, id, Request{Calldata: []byte("BTC"), AskCount: 3, MinCount: 2}))
	return db
}

func TestCreateRequestTwice(t *testing.T) {
	db := withRequest(t, 1)
	err := CreateRequest(db, 1, Request{})
	assert.True(t, errors.Is(err, ErrRequestExists))
	// other ids are independent
	require.NoError(t, CreateRequest(db, 2, Request{}))
}

func TestOpenStoreEnvMissing(t *testing.T) {
	_, err := OpenStoreEnv(dbm.NewMemDB(), 7)
	assert.True(t, errors.Is(err, ErrRequestNotFound))

	err = AddReport(dbm.NewMemDB(), 7, types.Report{})
	assert.True(t, errors.Is(err, ErrRequestNotFound))
}

func TestStoreEnvRequest(t *testing.T) {
	db := withRequest(t, 1)
	require.NoError(t, AddReport(db, 1, types.Report{ExternalID: 1, ValidatorID: 10, Status: types.ExternalDataOk, Data: []byte("1")}))
	require.NoError(t, AddReport(db, 1, types.Report{ExternalID: 2, ValidatorID: 10, Status: types.ExternalDataOk, Data: []byte("2")}))
	require.NoError(t, AddReport(db, 1, types.Report{ExternalID: 1, ValidatorID: 11, Status: types.ExternalDataFailed}))

	env, err := OpenStoreEnv(db, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("BTC"), env.GetCallData())
	assert.Equal(t, int64(3), env.GetAskCount())
	assert.Equal(t, int64(2), env.GetMinCount())
	// two distinct validators answered
	assert.Equal(t, int64(2), env.GetAnsCount())
}

func TestStoreEnvExternalData(t *testing.T) {
	db := withRequest(t, 1)
	env, err := OpenStoreEnv(db, 1)
	require.NoError(t, err)

	status, err := env.GetExternalDataStatus(1, 10)
	require.NoError(t, err)
	assert.Equal(t, types.ExternalDataUnknown, status)

	require.NoError(t, env.AskExternalData(2, 20, []byte("ETH")))
	require.NoError(t, env.AskExternalData(1, 10, []byte("BTC")))
	assert.True(t, errors.Is(env.AskExternalData(1, 11, nil), ErrAlreadyAsked))

	status, err = env.GetExternalDataStatus(1, 10)
	require.NoError(t, err)
	assert.Equal(t, types.ExternalDataPending, status)
	_, err = env.GetExternalData(1, 10)
	assert.True(t, errors.Is(err, ErrReportNotFound))

	require.NoError(t, AddReport(db, 1, types.Report{ExternalID: 1, ValidatorID: 10, Status: types.ExternalDataOk, Data: []byte("64000")}))
	status, err = env.GetExternalDataStatus(1, 10)
	require.NoError(t, err)
	assert.Equal(t, types.ExternalDataOk, status)
	data, err := env.GetExternalData(1, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("64000"), data)

	asked, err := env.AskedRequests()
	require.NoError(t, err)
	assert.Equal(t, []types.RawRequest{
		{ExternalID: 1, DataID: 10, Calldata: []byte("BTC")},
		{ExternalID: 2, DataID: 20, Calldata: []byte("ETH")},
	}, asked)
}

func TestStoreEnvResult(t *testing.T) {
	db := withRequest(t, 1)
	env, err := OpenStoreEnv(db, 1)
	require.NoError(t, err)

	res, err := env.Result()
	require.NoError(t, err)
	assert.Nil(t, res)

	require.NoError(t, env.SetReturnData([]byte("first")))
	require.NoError(t, env.SetReturnData([]byte("second")))
	res, err = env.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), res)
}

func TestAskedRequestsOrderedByExternalID(t *testing.T) {
	db := withRequest(t, 1)
	env, err := OpenStoreEnv(db, 1)
	require.NoError(t, err)

	for _, eid := range []int64{3, -1, 0, math.MinInt64, -7, math.MaxInt64} {
		require.NoError(t, env.AskExternalData(eid, 1, nil))
	}
	asked, err := env.AskedRequests()
	require.NoError(t, err)
	var eids []int64
	for _, raw := range asked {
		eids = append(eids, raw.ExternalID)
	}
	assert.Equal(t, []int64{math.MinInt64, -7, -1, 0, 3, math.MaxInt64}, eids)
}
