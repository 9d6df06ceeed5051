package throwaway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rukai/aws-throwaway/internal/ssh"
)

func TestInstanceAccessors(t *testing.T) {
	host, err := ssh.NewHostIdentity()
	require.NoError(t, err)

	instance := &EC2Instance{
		connectIP: "54.0.0.7",
		publicIP:  "54.0.0.7",
		privateIP: "10.0.0.7",
		interfaces: []NetworkInterface{
			{DeviceIndex: 0, PrivateIP: "10.0.0.7"},
			{DeviceIndex: 1, PrivateIP: "10.0.0.8"},
		},
		host: host,
	}

	assert.Equal(t, "54.0.0.7", instance.ConnectIP())
	assert.Equal(t, "54.0.0.7", instance.PublicIP())
	assert.Equal(t, "10.0.0.7", instance.PrivateIP())
	assert.Len(t, instance.NetworkInterfaces(), 2)

	assert.Equal(t, host.KnownHostsLine("54.0.0.7"), instance.KnownHostsLine())
	assert.Equal(t, "ssh ubuntu@54.0.0.7 -i ~/.ssh/aws-throwaway", instance.SSHInstructions())

	// Closing before any dial is a no-op.
	require.NoError(t, instance.Close())
}
