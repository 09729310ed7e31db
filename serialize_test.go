package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	b, err := Serialize(payload{Name: "hi"})
	require.NoError(t, err)

	var out payload
	require.NoError(t, Deserialize(b, &out))
	assert.Equal(t, "hi", out.Name)
}

func TestDeserializeMalformedBytesReturnsInvalidData(t *testing.T) {
	var out struct{}
	err := Deserialize([]byte("{"), &out)
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidData, relayErr.Kind)
}

func TestSerializeUnsupportedValueReturnsInvalidData(t *testing.T) {
	_, err := Serialize(make(chan int))
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidData, relayErr.Kind)
}
