package streamstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStreamNamePrefersRoutingKeyOverDefault(t *testing.T) {
	a := New(Options{DefaultStreamName: "fallback"}, zerolog.Nop())
	assert.Equal(t, "orders", a.streamName("orders"))
}

func TestStreamNameFallsBackToDefault(t *testing.T) {
	a := New(Options{DefaultStreamName: "fallback"}, zerolog.Nop())
	assert.Equal(t, "fallback", a.streamName(""))
}
