package servicebus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEntityNamePrefersRoutingKeyOverDefault(t *testing.T) {
	a := New(Options{DefaultEntityName: "fallback"}, zerolog.Nop())
	assert.Equal(t, "orders", a.entityName("orders"))
}

func TestEntityNameFallsBackToDefault(t *testing.T) {
	a := New(Options{DefaultEntityName: "fallback"}, zerolog.Nop())
	assert.Equal(t, "fallback", a.entityName(""))
}
