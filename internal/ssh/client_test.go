package ssh

import (
	"context"
	"testing"
	"time"

	"github.com/rukai/aws-throwaway/internal/ssh/internal/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// The SSH server construction listens on '0.0.0.0'; the client dials
	// loopback.
	mockListenHost        = "127.0.0.1"
	mockListenPort uint16 = 2222
)

func TestClientAgainstMockServer(t *testing.T) {
	// Client credential: the client signs with the private half, the server
	// authorizes the public half.
	userKeys, err := NewED25519KeyPair()
	require.NoError(t, err)
	userSigner, err := userKeys.Private.ToSSH()
	require.NoError(t, err)
	userPubKey, err := userKeys.Public.ToSSH()
	require.NoError(t, err)
	// Host identity: the server signs with the private half, the client pins
	// the public half.
	serverKeys, err := NewED25519KeyPair()
	require.NoError(t, err)
	serverSigner, err := serverKeys.Private.ToSSH()
	require.NoError(t, err)
	serverPubKey, err := serverKeys.Public.ToSSH()
	require.NoError(t, err)

	server, err := mock.NewServer(
		t,
		mockListenPort,
		serverSigner,
		mock.PublicKeyCallback(t, userPubKey),
	)
	require.NoError(t, err)
	reqs, _, err := server.ListenAndServe(t, t.Context())
	require.NoError(t, err)

	client, err := Connect(
		mockListenHost,
		mockListenPort,
		"ubuntu",
		userSigner,
		serverPubKey,
	)
	require.NoError(t, err)

	// The mock produces no stdout and always exits 0; what we verify is that
	// the exec request carries our command verbatim.
	const cmd = "uname -a"
	result, err := Run(client, cmd)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	req := <-reqs
	require.Equal(t, "exec", req.Type)
	require.Equal(t, cmd, string(req.Payload))

	require.NoError(t, client.Close())
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestConnectRejectsUnpinnedHostKey(t *testing.T) {
	userKeys, err := NewED25519KeyPair()
	require.NoError(t, err)
	userSigner, err := userKeys.Private.ToSSH()
	require.NoError(t, err)

	// No pinned host keys: never dial at all.
	_, err = Connect(mockListenHost, mockListenPort, "ubuntu", userSigner)
	require.ErrorIs(t, err, ErrHostKeyInvalid)
}

func TestJoinHostPort(t *testing.T) {
	// invalid ipv4 address
	s, err := joinHostPort("192.168.255.", 33)
	assert.Error(t, err)
	assert.Equal(t, "", s)
	// valid ipv4 address
	s, err = joinHostPort("192.168.255.50", 33)
	assert.NoError(t, err)
	assert.Equal(t, "192.168.255.50:33", s)
	// valid ipv6 address
	s, err = joinHostPort("2001:db8::8888", 22)
	assert.NoError(t, err)
	assert.Equal(t, "[2001:db8::8888]:22", s)
}
