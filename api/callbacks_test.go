package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackEnvForwards(t *testing.T) {
	var returned []byte
	var asked []int64
	env := CallbackEnv{
		CallData:  func() []byte { return []byte("calldata") },
		SetReturn: func(data []byte) error { returned = data; return nil },
		AskCount:  func() int64 { return 4 },
		MinCount:  func() int64 { return 3 },
		AnsCount:  func() int64 { return 2 },
		AskExternal: func(eid, did int64, data []byte) error {
			asked = append(asked, eid, did)
			return nil
		},
		ExternalDataStatus: func(eid, vid int64) (int64, error) { return eid + vid, nil },
		ExternalData:       func(eid, vid int64) ([]byte, error) { return []byte{byte(eid), byte(vid)}, nil },
	}

	assert.Equal(t, []byte("calldata"), env.GetCallData())
	require.NoError(t, env.SetReturnData([]byte("out")))
	assert.Equal(t, []byte("out"), returned)
	assert.Equal(t, int64(4), env.GetAskCount())
	assert.Equal(t, int64(3), env.GetMinCount())
	assert.Equal(t, int64(2), env.GetAnsCount())
	require.NoError(t, env.AskExternalData(1, 9, nil))
	assert.Equal(t, []int64{1, 9}, asked)
	status, err := env.GetExternalDataStatus(2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status)
	data, err := env.GetExternalData(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, data)
}

func TestCallbackEnvMissingCallbacks(t *testing.T) {
	var env CallbackEnv
	assert.Nil(t, env.GetCallData())
	assert.Equal(t, int64(0), env.GetAskCount())
	assert.True(t, errors.Is(env.SetReturnData(nil), ErrCallbackMissing))
	assert.True(t, errors.Is(env.AskExternalData(1, 1, nil), ErrCallbackMissing))
	_, err := env.GetExternalDataStatus(1, 1)
	assert.True(t, errors.Is(err, ErrCallbackMissing))
	_, err = env.GetExternalData(1, 1)
	assert.True(t, errors.Is(err, ErrCallbackMissing))
}
