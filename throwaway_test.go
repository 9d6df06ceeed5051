package throwaway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrincipal = "tester"

func testTags(extra map[string]string) map[string]string {
	tags := map[string]string{tagKeyOwner: testPrincipal, tagKeyName: nameTag}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// newTestSession builds a session against the fake and shrinks the poll
// timings so retry paths run in milliseconds.
func newTestSession(t *testing.T, fake *fakeEC2, cfg Config) *Aws {
	t.Helper()
	a, err := newSession(context.Background(), cfg, fake,
		&fakeIAM{userName: testPrincipal},
		&fakeSTS{arn: "arn:aws:iam::123456789012:user/" + testPrincipal},
	)
	require.NoError(t, err)
	a.associateInterval = time.Millisecond
	a.associateDeadline = 250 * time.Millisecond
	a.describeInterval = time.Millisecond
	return a
}

func TestNewSessionCreatesSharedResources(t *testing.T) {
	fake := newFakeEC2()
	a := newTestSession(t, fake, Config{})

	require.Len(t, fake.keyPairs, 1)
	for _, kp := range fake.keyPairs {
		assert.True(t, strings.HasPrefix(kp.name, "aws-throwaway-tester-"), "key pair name %q", kp.name)
		assert.Equal(t, testPrincipal, kp.tags[tagKeyOwner])
		assert.Equal(t, nameTag, kp.tags[tagKeyName])
	}
	assert.Equal(t, a.keyName, a.KeyName())
	assert.NotEmpty(t, a.ClientPrivateKey())

	require.Len(t, fake.securityGroups, 1)
	require.Len(t, fake.ingressRules, 2)
	var intraGroup, sshIn bool
	for _, rule := range fake.ingressRules {
		switch {
		case len(rule.IpPermissions) == 1 && len(rule.IpPermissions[0].UserIdGroupPairs) == 1:
			assert.Equal(t, "-1", aws.ToString(rule.IpPermissions[0].IpProtocol))
			assert.Equal(t, a.securityGroupID, aws.ToString(rule.IpPermissions[0].UserIdGroupPairs[0].GroupId))
			intraGroup = true
		case aws.ToString(rule.IpProtocol) == "tcp":
			assert.Equal(t, int32(22), aws.ToInt32(rule.FromPort))
			assert.Equal(t, int32(22), aws.ToInt32(rule.ToPort))
			assert.Equal(t, "0.0.0.0/0", aws.ToString(rule.CidrIp))
			sshIn = true
		}
	}
	assert.True(t, intraGroup, "missing intra-group rule")
	assert.True(t, sshIn, "missing ssh rule")

	require.Len(t, fake.placementGroups, 1)
	assert.Equal(t, "subnet-default", a.subnetID)
	assert.True(t, a.ownsSecurityGroup)
}

func TestNewSessionReclaimsLeakedResources(t *testing.T) {
	fake := newFakeEC2()
	leakedKey := fake.seed(kindKeyPair, "aws-throwaway-tester-old", testTags(nil))
	leakedSG := fake.seed(kindSecurityGroup, "aws-throwaway-tester-old", testTags(nil))
	leakedInstance := fake.seed(kindInstance, nameTag, testTags(nil))
	leakedAddress := fake.seed(kindElasticIP, nameTag, testTags(nil))

	newTestSession(t, fake, Config{})

	assert.NotContains(t, fake.keyPairs, leakedKey)
	assert.NotContains(t, fake.securityGroups, leakedSG)
	assert.NotContains(t, fake.instances, leakedInstance)
	assert.NotContains(t, fake.addresses, leakedAddress)
	// The session's own resources survive the construction-time reclaim.
	assert.Len(t, fake.keyPairs, 1)
	assert.Len(t, fake.securityGroups, 1)
}

func TestNewSessionScopedReclaimLeavesOtherScopes(t *testing.T) {
	fake := newFakeEC2()
	mine := fake.seed(kindKeyPair, "mine", testTags(map[string]string{tagKeyApp: "alpha"}))
	otherApp := fake.seed(kindKeyPair, "other-app", testTags(map[string]string{tagKeyApp: "beta"}))
	unlabeled := fake.seed(kindKeyPair, "unlabeled", testTags(nil))

	newTestSession(t, fake, Config{Scope: ScopeApp("alpha")})

	assert.NotContains(t, fake.keyPairs, mine)
	assert.Contains(t, fake.keyPairs, otherApp)
	assert.Contains(t, fake.keyPairs, unlabeled)
}

func TestNewSessionReusesCallerSecurityGroup(t *testing.T) {
	fake := newFakeEC2()
	a := newTestSession(t, fake, Config{SecurityGroupID: "sg-caller-owned"})

	assert.Equal(t, "sg-caller-owned", a.securityGroupID)
	assert.False(t, a.ownsSecurityGroup)
	assert.Zero(t, fake.count("CreateSecurityGroup"))
	assert.Zero(t, fake.count("AuthorizeSecurityGroupIngress"))
}

func TestResourceNamesAreUniquePerCall(t *testing.T) {
	first := resourceName(testPrincipal)
	second := resourceName(testPrincipal)
	assert.True(t, strings.HasPrefix(first, "aws-throwaway-tester-"))
	assert.NotEqual(t, first, second)
}
