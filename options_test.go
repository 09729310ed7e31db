package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudQueueValidationRequiresRegion(t *testing.T) {
	opts := Options{BrokerType: BrokerTypeCloudQueue, CloudQueue: &CloudQueueOptions{}}
	err := opts.validateBackend()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "Region", relayErr.Field)
}

func TestCloudQueueValidationPassesWithRegionOnly(t *testing.T) {
	opts := Options{BrokerType: BrokerTypeCloudQueue, CloudQueue: &CloudQueueOptions{Region: "us-east-1"}}
	require.NoError(t, opts.validateBackend())
}

func TestCloudServiceBusRequiresConnectionString(t *testing.T) {
	opts := Options{BrokerType: BrokerTypeCloudServiceBus, CloudServiceBus: &CloudServiceBusOptions{ConnectionString: ""}}
	err := opts.validateBackend()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Azure Service Bus connection string is required.")
}

func TestCloudServiceBusNilOptionsFailsConfiguration(t *testing.T) {
	opts := Options{BrokerType: BrokerTypeCloudServiceBus}
	err := opts.validateBackend()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidConfiguration, relayErr.Kind)
	assert.Contains(t, relayErr.Message, "Azure Service Bus options are required.")
}

func TestAMQPValidationRequiresHostNameAndPort(t *testing.T) {
	err := (&AMQPOptions{Port: 5672}).validate()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "HostName", relayErr.Field)

	err = (&AMQPOptions{HostName: "localhost", Port: 0}).validate()
	require.Error(t, err)
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "Port", relayErr.Field)
}

func TestDistributedLogRequiresBootstrapServers(t *testing.T) {
	err := (&DistributedLogOptions{}).validate()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "BootstrapServers", relayErr.Field)
}

func TestStreamInStoreRequiresAllFields(t *testing.T) {
	err := (&StreamInStoreOptions{ConnectionString: "esdb://"}).validate()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "DefaultStreamName", relayErr.Field)
}

func TestUnrecognizedBrokerTypeFails(t *testing.T) {
	err := (&Options{BrokerType: BrokerType(99)}).validateBackend()
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidArgument, relayErr.Kind)
}
