package throwaway

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupDestroysEverything(t *testing.T) {
	fake := newFakeEC2()
	a := newTestSession(t, fake, Config{})
	_, err := a.CreateEC2Instance(context.Background(), InstanceDefinition{
		InstanceType:          types.InstanceTypeT3Medium,
		NetworkInterfaceCount: 2,
	})
	require.NoError(t, err)

	require.NoError(t, a.CleanupResources(context.Background()))

	assert.Empty(t, fake.addresses)
	assert.Empty(t, fake.instances)
	assert.Empty(t, fake.securityGroups)
	assert.Empty(t, fake.placementGroups)
	assert.Empty(t, fake.keyPairs)

	assert.Equal(t, 1, fake.count("ReleaseAddress"))
	assert.Equal(t, 1, fake.count("TerminateInstances"))
	assert.Equal(t, 1, fake.count("DeleteSecurityGroup"))
	assert.Equal(t, 1, fake.count("DeletePlacementGroup"))
	assert.Equal(t, 1, fake.count("DeleteKeyPair"))
}

func TestCleanupIsIdempotent(t *testing.T) {
	fake := newFakeEC2()
	a := newTestSession(t, fake, Config{})

	require.NoError(t, a.CleanupResources(context.Background()))
	require.NoError(t, a.CleanupResources(context.Background()))
	// The second pass finds nothing and deletes nothing.
	assert.Equal(t, 1, fake.count("DeleteKeyPair"))
	assert.Equal(t, 1, fake.count("DeleteSecurityGroup"))
	assert.Equal(t, 1, fake.count("DeletePlacementGroup"))
}

func TestCleanupScopedToApp(t *testing.T) {
	fake := newFakeEC2()
	mine := fake.seed(kindInstance, nameTag, testTags(map[string]string{tagKeyApp: "alpha"}))
	other := fake.seed(kindInstance, nameTag, testTags(map[string]string{tagKeyApp: "beta"}))

	tags := Tags{Principal: testPrincipal, Scope: ScopeApp("alpha")}
	require.NoError(t, reclaim(context.Background(), fake, tags))

	assert.NotContains(t, fake.instances, mine)
	assert.Contains(t, fake.instances, other)
}

func TestCleanupUnauthorizedKeyPairDoesNotFailOtherKinds(t *testing.T) {
	fake := newFakeEC2()
	fake.unauthorizedKeyPairs = true
	fake.seed(kindKeyPair, "kp", testTags(nil))
	fake.seed(kindSecurityGroup, "sg", testTags(nil))
	fake.seed(kindPlacementGroup, "pg", testTags(nil))

	tags := Tags{Principal: testPrincipal, Scope: ScopeAll()}
	require.NoError(t, reclaim(context.Background(), fake, tags))

	// Key pairs stay behind, everything else still goes.
	assert.Len(t, fake.keyPairs, 1)
	assert.Empty(t, fake.securityGroups)
	assert.Empty(t, fake.placementGroups)
}

func TestCleanupStuckSecurityGroupDoesNotBlockTheRest(t *testing.T) {
	fake := newFakeEC2()
	stuck := fake.seed(kindSecurityGroup, "stuck", testTags(nil))
	free := fake.seed(kindSecurityGroup, "free", testTags(nil))
	fake.stuckSecurityGroups[stuck] = true

	tags := Tags{Principal: testPrincipal, Scope: ScopeAll()}
	require.NoError(t, reclaim(context.Background(), fake, tags))

	assert.Contains(t, fake.securityGroups, stuck)
	assert.NotContains(t, fake.securityGroups, free)
	assert.Equal(t, 2, fake.count("DeleteSecurityGroup"))
}

func TestCleanupReleaseFailureStillTerminatesInstances(t *testing.T) {
	fake := newFakeEC2()
	stuck := fake.seed(kindElasticIP, nameTag, testTags(nil))
	free := fake.seed(kindElasticIP, nameTag, testTags(nil))
	instance := fake.seed(kindInstance, nameTag, testTags(nil))
	fake.releaseAddressFailures = map[string]error{
		stuck: apiError("AuthFailure", "address is in use"),
	}

	tags := Tags{Principal: testPrincipal, Scope: ScopeAll()}
	require.NoError(t, reclaim(context.Background(), fake, tags))

	assert.Contains(t, fake.addresses, stuck)
	assert.NotContains(t, fake.addresses, free)
	assert.NotContains(t, fake.instances, instance)
}

func TestCleanupResolvesPlacementGroupNames(t *testing.T) {
	fake := newFakeEC2()
	fake.seed(kindPlacementGroup, "aws-throwaway-tester-abc", testTags(nil))

	tags := Tags{Principal: testPrincipal, Scope: ScopeAll()}
	require.NoError(t, reclaim(context.Background(), fake, tags))

	assert.Empty(t, fake.placementGroups)
	// Deletion goes through the id-to-name lookup, never by id directly.
	assert.Equal(t, 1, fake.count("DescribePlacementGroups"))
	assert.Equal(t, 1, fake.count("DeletePlacementGroup"))
}
