package throwaway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// CleanupResources destroys every resource owned by the session's scope,
// including resources created by earlier crashed processes. Call it before
// dropping the session.
func (a *Aws) CleanupResources(ctx context.Context) error {
	return reclaim(ctx, a.api, a.tags)
}

// Cleanup destroys every resource in 'scope' without building a session.
// Intended for standalone cleanup invocations (CI jobs, cron).
func Cleanup(ctx context.Context, scope CleanupScope) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	principal, err := lookupPrincipal(ctx, iam.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	return reclaim(ctx, ec2.NewFromConfig(awsCfg), Tags{Principal: principal, Scope: scope})
}

// reclaim discovers and deletes owned resources in a fixed order: elastic
// IPs first (so an early failure never strands a billable address), then a
// batched instance termination, then the three remaining kinds concurrently.
// It is idempotent and safe to race with other processes; deleting a
// resource another run already deleted just logs.
//
// The first two phases never abort early: every address and instance is
// always attempted. Per-resource failures are logged and skipped, except
// keypair deletions, which fail loudly (see deleteKeyPairs).
func reclaim(ctx context.Context, api EC2API, tags Tags) error {
	log := clog.FromContext(ctx)

	addressIDs, err := tags.Discover(ctx, api, kindElasticIP)
	if err != nil {
		return fmt.Errorf("discovering elastic IPs: %w", err)
	}
	for _, id := range addressIDs {
		if _, err := api.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
			AllocationId: aws.String(id),
		}); err != nil {
			log.Warn("failed to release elastic IP, a future cleanup will retry", "id", id, "error", err)
			continue
		}
		log.Info("released elastic IP", "id", id)
	}

	instanceIDs, err := tags.Discover(ctx, api, kindInstance)
	if err != nil {
		return fmt.Errorf("discovering instances: %w", err)
	}
	if len(instanceIDs) > 0 {
		out, err := api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: instanceIDs,
		})
		if err != nil {
			log.Warn("failed to terminate instances, a future cleanup will retry", "ids", instanceIDs, "error", err)
		} else {
			for _, change := range out.TerminatingInstances {
				log.Info("terminating instance",
					"id", aws.ToString(change.InstanceId),
					"previous_state", stateName(change.PreviousState),
					"current_state", stateName(change.CurrentState),
				)
			}
		}
	}

	// The three remaining kinds are independent of each other; delete them
	// concurrently.
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return deleteSecurityGroups(ctx, api, tags) })
	eg.Go(func() error { return deletePlacementGroups(ctx, api, tags) })
	eg.Go(func() error { return deleteKeyPairs(ctx, api, tags) })
	return eg.Wait()
}

func stateName(state *ec2types.InstanceState) string {
	if state == nil {
		return ""
	}
	return string(state.Name)
}

// deleteSecurityGroups is best-effort per group: a group is undeletable
// while a terminating instance still holds its interface, and will go on
// the next cleanup pass. One stuck group must not block the rest.
func deleteSecurityGroups(ctx context.Context, api EC2API, tags Tags) error {
	log := clog.FromContext(ctx)
	ids, err := tags.Discover(ctx, api, kindSecurityGroup)
	if err != nil {
		return fmt.Errorf("discovering security groups: %w", err)
	}
	for _, id := range ids {
		if _, err := api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
			GroupId: aws.String(id),
		}); err != nil {
			log.Info("security group not deletable yet, a future cleanup will retry", "id", id, "error", err)
			continue
		}
		log.Info("deleted security group", "id", id)
	}
	return nil
}

// deletePlacementGroups resolves ids to names first: the delete operation
// addresses placement groups by name only. Best-effort per group.
func deletePlacementGroups(ctx context.Context, api EC2API, tags Tags) error {
	log := clog.FromContext(ctx)
	ids, err := tags.Discover(ctx, api, kindPlacementGroup)
	if err != nil {
		return fmt.Errorf("discovering placement groups: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	out, err := api.DescribePlacementGroups(ctx, &ec2.DescribePlacementGroupsInput{
		GroupIds: ids,
	})
	if err != nil {
		return fmt.Errorf("describing placement groups: %w", err)
	}
	for _, group := range out.PlacementGroups {
		name := aws.ToString(group.GroupName)
		if _, err := api.DeletePlacementGroup(ctx, &ec2.DeletePlacementGroupInput{
			GroupName: aws.String(name),
		}); err != nil {
			log.Info("placement group not deletable yet, a future cleanup will retry", "name", name, "error", err)
			continue
		}
		log.Info("deleted placement group", "name", name)
	}
	return nil
}

var ErrKeyPairUnauthorized = fmt.Errorf("not authorized to delete key pairs")

// deleteKeyPairs deletes owned key pairs. Unlike groups, a failed keypair
// deletion does not self-resolve, so any unexpected error is fatal. An
// authorization failure aborts the remaining keypairs without failing the
// other teardown kinds: once permissions are missing for one, they are
// missing for all.
func deleteKeyPairs(ctx context.Context, api EC2API, tags Tags) error {
	log := clog.FromContext(ctx)
	ids, err := tags.Discover(ctx, api, kindKeyPair)
	if err != nil {
		return fmt.Errorf("discovering key pairs: %w", err)
	}
	for _, id := range ids {
		if _, err := api.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
			KeyPairId: aws.String(id),
		}); err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "UnauthorizedOperation" {
				log.Error("no permission to delete key pair, skipping the rest since they will also fail",
					"id", id, "error", fmt.Errorf("%w: %w", ErrKeyPairUnauthorized, err))
				return nil
			}
			return fmt.Errorf("deleting key pair %s: %w", id, err)
		}
		log.Info("deleted key pair", "id", id)
	}
	return nil
}
