package throwaway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupPrincipalIAMUser(t *testing.T) {
	principal, err := lookupPrincipal(context.Background(),
		&fakeIAM{userName: "alice"},
		&fakeSTS{err: assert.AnError},
	)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestLookupPrincipalAssumedRoleFallsBackToCallerARN(t *testing.T) {
	principal, err := lookupPrincipal(context.Background(),
		&fakeIAM{err: assert.AnError},
		&fakeSTS{arn: "arn:aws:sts::123456789012:assumed-role/ci-runner/build-42"},
	)
	require.NoError(t, err)
	assert.Equal(t, "build-42", principal)
}

func TestLookupPrincipalBothFail(t *testing.T) {
	_, err := lookupPrincipal(context.Background(),
		&fakeIAM{err: assert.AnError},
		&fakeSTS{err: assert.AnError},
	)
	require.ErrorIs(t, err, ErrNoPrincipal)
}

func TestLookupPrincipalUnparseableARN(t *testing.T) {
	_, err := lookupPrincipal(context.Background(),
		&fakeIAM{err: assert.AnError},
		&fakeSTS{arn: "not-an-arn"},
	)
	require.ErrorIs(t, err, ErrNoPrincipal)
}
