package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Name    string `msgpack:"name"`
	Payload []byte `msgpack:"data"`
	TS      int64  `msgpack:"ts"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sampleRecord{
		Name:    "/chatter",
		Payload: []byte{0x01, 0x02, 0x00, 0xff},
		TS:      1234567890123456789,
	}

	data, err := Marshal(&in)
	require.NoError(t, err)

	var out sampleRecord
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalLooseInterfaceKeepsStrings(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"channel": "/sensor/lidar"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))

	v, ok := out["channel"].(string)
	require.True(t, ok, "channel should decode as string, got %T", out["channel"])
	assert.Equal(t, "/sensor/lidar", v)
}

func TestUnmarshalGarbage(t *testing.T) {
	var out sampleRecord
	assert.Error(t, Unmarshal([]byte{0xc1, 0xc1, 0xc1}, &out))
}
