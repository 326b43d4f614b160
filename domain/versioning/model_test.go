package versioning

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_JSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		json  string
	}{
		{name: "absent", value: Absent(), json: `null`},
		{name: "scalar", value: Scalar("42"), json: `{"kind":"scalar","text":"42"}`},
		{name: "enum", value: EnumName("active"), json: `{"kind":"enum","text":"active"}`},
		{name: "text", value: Text(`{"v":"a"}`), json: `{"kind":"text","text":"{\"v\":\"a\"}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := jsoniter.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			var decoded Value
			require.NoError(t, jsoniter.Unmarshal(data, &decoded))
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestValue_UnknownKind(t *testing.T) {
	var v Value

	err := jsoniter.Unmarshal([]byte(`{"kind":"blob","text":"x"}`), &v)

	assert.Error(t, err)
}

func TestVersion_JSON(t *testing.T) {
	version := &Version{
		ID: "v1",
		ObjectModificationMap: map[string]ObjectModification{
			"-items[1]": Modification(Text(`{"v":"b"}`), Absent()),
		},
	}

	data, err := jsoniter.Marshal(version)
	require.NoError(t, err)

	var decoded Version
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	assert.Equal(t, version.ObjectModificationMap, decoded.ObjectModificationMap)
	assert.False(t, decoded.IsEmpty())
	assert.True(t, (*Version)(nil).IsEmpty())
}
