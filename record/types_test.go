package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-io/magpie/encoding"
)

func TestDescriptorValidate(t *testing.T) {
	valid := Descriptor{Name: "/chatter", MessageType: "T", Schema: []byte("S")}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{MessageType: "T", Schema: []byte("S")}},
		{"empty type", Descriptor{Name: "/chatter", Schema: []byte("S")}},
		{"empty schema", Descriptor{Name: "/chatter", MessageType: "T"}},
		{"all empty", Descriptor{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.desc.Validate())
		})
	}
}

func TestChangeEventRoundTrip(t *testing.T) {
	ev := ChangeEvent{
		Role: RoleWriter,
		Op:   OpJoin,
		Descriptor: Descriptor{
			Name:        "/sensor/lidar",
			MessageType: "PointCloud",
			Schema:      []byte("schema-bytes"),
		},
	}

	data, err := encoding.Marshal(ev)
	require.NoError(t, err)

	var decoded ChangeEvent
	require.NoError(t, encoding.Unmarshal(data, &decoded))
	assert.Equal(t, ev, decoded)
}
