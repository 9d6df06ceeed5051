package throwaway

// tags.go is the ownership ledger. Every resource a session creates carries
// an owner tag (the principal) and, when the session is scoped to an
// application, a label tag. Discovery queries the provider's tag index for
// each and intersects the identifier sets: the label query alone could match
// another principal's resources sharing the same label, the intersection
// guarantees strict ownership.

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	tagKeyOwner = "aws-throwaway:owner"
	tagKeyApp   = "aws-throwaway:app"

	// 'Name' is well-known within AWS itself; it is what the console shows.
	tagKeyName = "Name"
)

// Resource kinds as the EC2 tag index names them. These are the only kinds a
// session ever creates.
const (
	kindKeyPair        = "key-pair"
	kindSecurityGroup  = "security-group"
	kindPlacementGroup = "placement-group"
	kindElasticIP      = "elastic-ip"
	kindInstance       = "instance"
)

// CleanupScope selects which resources discovery and teardown consider:
// everything owned by the principal, or only what is additionally tagged
// with an application label.
type CleanupScope struct {
	appTag string
}

// ScopeAll covers every resource owned by the principal.
func ScopeAll() CleanupScope {
	return CleanupScope{}
}

// ScopeApp covers resources owned by the principal AND tagged with 'label'.
// Use distinct labels to let independent tools share one AWS account without
// reclaiming each other's machines.
func ScopeApp(label string) CleanupScope {
	return CleanupScope{appTag: label}
}

// AppTag returns the application label and whether one is configured.
func (s CleanupScope) AppTag() (string, bool) {
	return s.appTag, s.appTag != ""
}

// Tags derives the tag set for every resource a session creates and recovers
// owned resource identifiers from the provider's tag index. It is immutable
// for a session's lifetime.
type Tags struct {
	Principal string
	Scope     CleanupScope
}

// Specification emits the creation-time tags for one resource: owner,
// optional app label, and a Name for console readability.
func (t Tags) Specification(rt types.ResourceType, name string) []types.TagSpecification {
	tags := []types.Tag{
		{Key: aws.String(tagKeyOwner), Value: aws.String(t.Principal)},
		{Key: aws.String(tagKeyName), Value: aws.String(name)},
	}
	if label, ok := t.Scope.AppTag(); ok {
		tags = append(tags, types.Tag{Key: aws.String(tagKeyApp), Value: aws.String(label)})
	}
	return []types.TagSpecification{{
		ResourceType: rt,
		Tags:         tags,
	}}
}

// Discover returns the identifiers of every resource of 'kind' within the
// scope. An empty result means no owned resources of that kind; it is not an
// error.
func (t Tags) Discover(ctx context.Context, api EC2API, kind string) ([]string, error) {
	owned, err := resourcesTagged(ctx, api, kind, tagKeyOwner, t.Principal)
	if err != nil {
		return nil, err
	}
	label, ok := t.Scope.AppTag()
	if !ok {
		return owned, nil
	}
	labeled, err := resourcesTagged(ctx, api, kind, tagKeyApp, label)
	if err != nil {
		return nil, err
	}
	return intersect(owned, labeled), nil
}

// resourcesTagged queries the tag index for resources of 'kind' carrying the
// exact key=value tag.
func resourcesTagged(ctx context.Context, api EC2API, kind, key, value string) ([]string, error) {
	var ids []string
	var nextToken *string
	for {
		out, err := api.DescribeTags(ctx, &ec2.DescribeTagsInput{
			Filters: []types.Filter{
				{Name: aws.String("resource-type"), Values: []string{kind}},
				{Name: aws.String("key"), Values: []string{key}},
				{Name: aws.String("value"), Values: []string{value}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, err
		}
		for _, tag := range out.Tags {
			if tag.ResourceId != nil {
				ids = append(ids, *tag.ResourceId)
			}
		}
		if out.NextToken == nil {
			return ids, nil
		}
		nextToken = out.NextToken
	}
}

// intersect returns the members of 'primary' also present in 'secondary',
// preserving primary's order.
func intersect(primary, secondary []string) []string {
	in := make(map[string]struct{}, len(secondary))
	for _, id := range secondary {
		in[id] = struct{}{}
	}
	var both []string
	for _, id := range primary {
		if _, ok := in[id]; ok {
			both = append(both, id)
		}
	}
	return both
}
