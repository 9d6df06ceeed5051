package throwaway

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rukai/aws-throwaway/internal/ssh"
)

const (
	// Region is the single region every resource lives in. Hardcoding it
	// means teardown only ever has to scan one region.
	Region = "us-east-1"
	// AZ pins all instances of all sessions into one availability zone so
	// inter-instance latency is uniform.
	AZ = "us-east-1c"
)

// Config configures a session. The zero value connects via public addresses
// and uses the account's default VPC, subnet and a freshly created security
// group.
type Config struct {
	// Scope selects which previously leaked resources the session reclaims
	// on construction and which resources CleanupResources destroys.
	Scope CleanupScope

	// UsePrivateAddresses connects to instances via their private IP instead
	// of the public one. Requires running inside the VPC or over a VPN.
	//
	// Note: if the subnet has MapPublicIpOnLaunch set, instances get public
	// addresses regardless of this flag; it only selects the connect address.
	UsePrivateAddresses bool

	// VPCID places the created security group in a specific VPC instead of
	// the default one.
	VPCID string

	// SubnetID launches instances into a specific subnet instead of the
	// default subnet for the zone.
	SubnetID string

	// SecurityGroupID attaches instances to an existing security group
	// instead of creating one. The caller is then responsible for its rules
	// and its deletion.
	SecurityGroupID string
}

// Aws is a session that creates and reclaims throwaway EC2 resources. All
// methods are safe for concurrent use: resource names embed a random suffix
// per session, so unrelated sessions never contend.
type Aws struct {
	api  EC2API
	tags Tags

	usePublicAddresses bool

	keyName          string
	clientPrivateKey string
	host             ssh.HostIdentity

	securityGroupID    string
	ownsSecurityGroup  bool
	placementGroupName string

	subnetID                 string
	subnetAutoAssignPublicIP bool

	// Poll tuning, overridden in tests.
	associateInterval time.Duration
	associateDeadline time.Duration
	describeInterval  time.Duration
}

// New builds a session from the environment's AWS credentials.
//
// Construction first reclaims every resource matching cfg.Scope that a
// previous run failed to clean up, then concurrently creates the shared
// resource set every instance launch depends on: a client key pair, a
// security group (allowing SSH in from anywhere, everything between group
// members, and everything out), a spread placement group, and the resolved
// target subnet.
func New(ctx context.Context, cfg Config) (*Aws, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newSession(ctx, cfg,
		ec2.NewFromConfig(awsCfg),
		iam.NewFromConfig(awsCfg),
		sts.NewFromConfig(awsCfg),
	)
}

func newSession(ctx context.Context, cfg Config, api EC2API, iamAPI IAMAPI, stsAPI STSAPI) (*Aws, error) {
	log := clog.FromContext(ctx)

	principal, err := lookupPrincipal(ctx, iamAPI, stsAPI)
	if err != nil {
		return nil, err
	}
	tags := Tags{Principal: principal, Scope: cfg.Scope}

	// Crash recovery: reclaim anything a previous run of this scope leaked
	// before creating new resources.
	if err := reclaim(ctx, api, tags); err != nil {
		return nil, fmt.Errorf("reclaiming leaked resources: %w", err)
	}

	a := &Aws{
		api:                api,
		tags:               tags,
		usePublicAddresses: !cfg.UsePrivateAddresses,
		keyName:            resourceName(principal),
		securityGroupID:    cfg.SecurityGroupID,
		placementGroupName: resourceName(principal),

		associateInterval: 2 * time.Second,
		associateDeadline: 120 * time.Second,
		describeInterval:  time.Second,
	}

	// The machine's host identity is generated locally: its private half has
	// to ship inside boot configuration before the machine exists.
	a.host, err = ssh.NewHostIdentity()
	if err != nil {
		return nil, err
	}

	// The four setup operations are independent and dominate latency before
	// the first launch call; run them concurrently and join.
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.createKeyPair(ctx) })
	eg.Go(func() error { return a.createSecurityGroup(ctx, cfg.VPCID) })
	eg.Go(func() error { return a.createPlacementGroup(ctx) })
	eg.Go(func() error { return a.resolveSubnet(ctx, cfg.SubnetID) })
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	log.Info("session ready",
		"principal", principal,
		"key", a.keyName,
		"security_group", a.securityGroupID,
		"placement_group", a.placementGroupName,
		"subnet", a.subnetID,
	)
	return a, nil
}

// resourceName builds a session-unique resource name. The random suffix is
// what lets concurrent sessions of one principal coexist.
func resourceName(principal string) string {
	return fmt.Sprintf("aws-throwaway-%s-%s", principal, uuid.NewString())
}

// nameTag is the Name tag value shared by all created resources.
const nameTag = "aws-throwaway"

func (a *Aws) createKeyPair(ctx context.Context) error {
	log := clog.FromContext(ctx)
	// The provider generates the keypair and returns the private key
	// material exactly once; it lives only in this session's memory.
	out, err := a.api.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           aws.String(a.keyName),
		KeyType:           types.KeyTypeEd25519,
		TagSpecifications: a.tags.Specification(types.ResourceTypeKeyPair, nameTag),
	})
	if err != nil {
		return fmt.Errorf("creating key pair: %w", err)
	}
	if out.KeyMaterial == nil {
		return fmt.Errorf("creating key pair: no key material returned")
	}
	a.clientPrivateKey = *out.KeyMaterial
	log.Info("created key pair", "name", a.keyName)
	return nil
}

func (a *Aws) createSecurityGroup(ctx context.Context, vpcID string) error {
	log := clog.FromContext(ctx)
	if a.securityGroupID != "" {
		log.Info("reusing caller-supplied security group", "id", a.securityGroupID)
		return nil
	}

	name := resourceName(a.tags.Principal)
	input := &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String("aws-throwaway security group"),
		TagSpecifications: a.tags.Specification(types.ResourceTypeSecurityGroup, nameTag),
	}
	if vpcID != "" {
		input.VpcId = aws.String(vpcID)
	}
	out, err := a.api.CreateSecurityGroup(ctx, input)
	if err != nil {
		return fmt.Errorf("creating security group: %w", err)
	}
	a.securityGroupID = *out.GroupId
	a.ownsSecurityGroup = true
	log.Info("created security group", "id", a.securityGroupID, "name", name)

	// Two ingress rules: all traffic between group members (instance to
	// instance), and SSH in from anywhere. Egress is open by default.
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := a.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: aws.String(a.securityGroupID),
			IpPermissions: []types.IpPermission{{
				IpProtocol: aws.String("-1"),
				UserIdGroupPairs: []types.UserIdGroupPair{{
					GroupId: aws.String(a.securityGroupID),
				}},
			}},
		})
		if err != nil {
			return fmt.Errorf("authorizing intra-group ingress: %w", err)
		}
		log.Info("created security group rule", "rule", "intra-group")
		return nil
	})
	eg.Go(func() error {
		_, err := a.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:    aws.String(a.securityGroupID),
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(22),
			ToPort:     aws.Int32(22),
			CidrIp:     aws.String("0.0.0.0/0"),
		})
		if err != nil {
			return fmt.Errorf("authorizing SSH ingress: %w", err)
		}
		log.Info("created security group rule", "rule", "ssh")
		return nil
	})
	return eg.Wait()
}

func (a *Aws) createPlacementGroup(ctx context.Context) error {
	log := clog.FromContext(ctx)
	// Spread placement keeps instances off shared hardware, which is what
	// latency/fault-variance testing wants.
	_, err := a.api.CreatePlacementGroup(ctx, &ec2.CreatePlacementGroupInput{
		GroupName:         aws.String(a.placementGroupName),
		Strategy:          types.PlacementStrategySpread,
		TagSpecifications: a.tags.Specification(types.ResourceTypePlacementGroup, nameTag),
	})
	if err != nil {
		return fmt.Errorf("creating placement group: %w", err)
	}
	log.Info("created placement group", "name", a.placementGroupName)
	return nil
}

func (a *Aws) resolveSubnet(ctx context.Context, subnetID string) error {
	log := clog.FromContext(ctx)
	input := &ec2.DescribeSubnetsInput{}
	if subnetID != "" {
		input.Filters = []types.Filter{
			{Name: aws.String("subnet-id"), Values: []string{subnetID}},
		}
	} else {
		input.Filters = []types.Filter{
			{Name: aws.String("default-for-az"), Values: []string{"true"}},
			{Name: aws.String("availability-zone"), Values: []string{AZ}},
		}
	}
	out, err := a.api.DescribeSubnets(ctx, input)
	if err != nil {
		return fmt.Errorf("resolving subnet: %w", err)
	}
	if len(out.Subnets) == 0 {
		return fmt.Errorf("resolving subnet: no subnet found (id=%q)", subnetID)
	}
	subnet := out.Subnets[0]
	a.subnetID = aws.ToString(subnet.SubnetId)
	a.subnetAutoAssignPublicIP = aws.ToBool(subnet.MapPublicIpOnLaunch)
	log.Info("resolved subnet", "id", a.subnetID, "auto_assign_public_ip", a.subnetAutoAssignPublicIP)
	return nil
}

// KeyName returns the name of the session's client key pair.
func (a *Aws) KeyName() string {
	return a.keyName
}

// ClientPrivateKey returns the PEM-encoded private key authenticating this
// session to its instances. Useful for handing to external tooling.
func (a *Aws) ClientPrivateKey() string {
	return a.clientPrivateKey
}
