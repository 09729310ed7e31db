package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type TestMessage struct{}

func TestResolveSubjectDefaultsToRelayPrefix(t *testing.T) {
	assert.Equal(t, "relay.testmessage", resolveSubject("", TestMessage{}))
}

func TestResolveSubjectUsesExplicitStreamName(t *testing.T) {
	assert.Equal(t, "my-stream.testmessage", resolveSubject("my-stream", TestMessage{}))
}

func TestResolveSubjectTreatsWhitespaceAsAbsent(t *testing.T) {
	assert.Equal(t, "relay.testmessage", resolveSubject("   ", TestMessage{}))
}

func TestResolveRoutingKeyInterpolatesMessageType(t *testing.T) {
	assert.Equal(t, "relay.testmessage", resolveRoutingKey("relay.{MessageType}", TestMessage{}))
}

func TestResolveRoutingKeyInterpolatesFullName(t *testing.T) {
	key := resolveRoutingKey("{MessageFullName}", TestMessage{})
	assert.Contains(t, key, "testmessage")
}

func TestResolveRoutingKeyDefaultsToTypeNameWhenPatternEmpty(t *testing.T) {
	assert.Equal(t, "testmessage", resolveRoutingKey("", TestMessage{}))
}
