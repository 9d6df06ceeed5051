package throwaway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
)

var (
	ErrAssociateAddressTimeout = fmt.Errorf("gave up associating elastic IP with the primary network interface")
	ErrNoPrimaryInterface      = fmt.Errorf("launched instance reported no network interface at device index 0")
)

// CreateEC2Instance launches one machine as described by 'def' and blocks
// until it is addressable, returning a handle bound to an authenticated SSH
// channel.
//
// There is no rollback on failure: resources already created stay owned by
// the session's scope and are reclaimed by the next cleanup run. The
// readiness wait is deliberately unbounded because cloud boot time is not;
// callers wanting a ceiling should wrap ctx with a deadline.
func (a *Aws) CreateEC2Instance(ctx context.Context, def InstanceDefinition) (*EC2Instance, error) {
	log := clog.FromContext(ctx)
	def.applyDefaults()
	if err := def.validate(); err != nil {
		return nil, err
	}

	// Elastic IPs are scarce; allocate one only when the instance cannot get
	// an auto-assigned public address (multiple interfaces) and the caller
	// actually wants public reachability.
	var elasticIP *ec2.AllocateAddressOutput
	if a.usePublicAddresses && def.NetworkInterfaceCount > 1 {
		out, err := a.api.AllocateAddress(ctx, &ec2.AllocateAddressInput{
			TagSpecifications: a.tags.Specification(types.ResourceTypeElasticIp, nameTag),
		})
		if err != nil {
			return nil, fmt.Errorf("allocating elastic IP: %w", err)
		}
		elasticIP = out
		log.Info("allocated elastic IP", "allocation_id", aws.ToString(out.AllocationId), "ip", aws.ToString(out.PublicIp))
	}

	input := a.launchInput(def)
	result, err := a.api.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("launching instance: %w", err)
	}
	if len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return nil, fmt.Errorf("launching instance: no instance returned")
	}
	launched := result.Instances[0]
	instanceID := *launched.InstanceId
	log.Info("launched instance", "id", instanceID)

	var primaryInterfaceID string
	interfaces := make([]NetworkInterface, 0, len(launched.NetworkInterfaces))
	for _, ni := range launched.NetworkInterfaces {
		if ni.Attachment == nil || ni.Attachment.DeviceIndex == nil {
			continue
		}
		index := *ni.Attachment.DeviceIndex
		if index == 0 {
			primaryInterfaceID = aws.ToString(ni.NetworkInterfaceId)
		}
		interfaces = append(interfaces, NetworkInterface{
			DeviceIndex: index,
			PrivateIP:   aws.ToString(ni.PrivateIpAddress),
		})
	}
	if primaryInterfaceID == "" {
		return nil, ErrNoPrimaryInterface
	}

	publicIP := ""
	if elasticIP != nil {
		if err := a.associateAddress(ctx, elasticIP, primaryInterfaceID); err != nil {
			return nil, err
		}
		publicIP = aws.ToString(elasticIP.PublicIp)
	}

	publicIP, privateIP, err := a.awaitAddresses(ctx, instanceID, publicIP)
	if err != nil {
		return nil, err
	}
	log.Info("instance addressable", "id", instanceID, "public", publicIP, "private", privateIP)

	connectIP := privateIP
	if a.usePublicAddresses {
		connectIP = publicIP
	}
	return &EC2Instance{
		connectIP:        connectIP,
		publicIP:         publicIP,
		privateIP:        privateIP,
		interfaces:       interfaces,
		host:             a.host,
		clientPrivateKey: a.clientPrivateKey,
	}, nil
}

// launchInput assembles the single create-instance call. Exactly one of
// {subnet + instance-level security group, explicit per-index interface
// specs} may be sent: the provider rejects requests carrying both.
func (a *Aws) launchInput(def InstanceDefinition) *ec2.RunInstancesInput {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(def.imageID()),
		InstanceType: def.InstanceType,
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		KeyName:      aws.String(a.keyName),
		Placement: &types.Placement{
			GroupName:        aws.String(a.placementGroupName),
			AvailabilityZone: aws.String(AZ),
		},
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &types.EbsBlockDevice{
				DeleteOnTermination: aws.Bool(true),
				VolumeSize:          aws.Int32(def.VolumeSizeGB),
				VolumeType:          types.VolumeTypeGp2,
			},
		}},
		UserData:          aws.String(base64.StdEncoding.EncodeToString([]byte(a.host.BootScript()))),
		TagSpecifications: a.tags.Specification(types.ResourceTypeInstance, nameTag),
	}

	if def.NetworkInterfaceCount == 1 {
		input.SubnetId = aws.String(a.subnetID)
		input.SecurityGroupIds = []string{a.securityGroupID}
		return input
	}
	for i := range def.NetworkInterfaceCount {
		input.NetworkInterfaces = append(input.NetworkInterfaces, types.InstanceNetworkInterfaceSpecification{
			DeviceIndex:         aws.Int32(int32(i)),
			SubnetId:            aws.String(a.subnetID),
			Groups:              []string{a.securityGroupID},
			DeleteOnTermination: aws.Bool(true),
			// Must be false when launching with multiple interfaces.
			AssociatePublicIpAddress: aws.Bool(false),
			Description:              aws.String(strconv.Itoa(i)),
		})
	}
	return input
}

// associateAddress binds the elastic IP to the instance's primary interface.
//
// The interface is not attachable immediately after launch; the provider
// answers with a "not in a valid state for this operation" class error until
// the instance leaves pending. Retry on a fixed interval up to the deadline,
// after which the failure is fatal (the instance exists but is unreachable
// and must be torn down by the caller's cleanup).
func (a *Aws) associateAddress(ctx context.Context, elasticIP *ec2.AllocateAddressOutput, interfaceID string) error {
	log := clog.FromContext(ctx)
	start := time.Now()
	for {
		_, err := a.api.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			AllocationId:       elasticIP.AllocationId,
			NetworkInterfaceId: aws.String(interfaceID),
		})
		if err == nil {
			log.Info("associated elastic IP", "interface", interfaceID)
			return nil
		}
		if time.Since(start) > a.associateDeadline {
			return fmt.Errorf("%w after %s: %w", ErrAssociateAddressTimeout, a.associateDeadline, err)
		}
		log.Debug("elastic IP association not ready, retrying", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.associateInterval):
		}
	}
}

// awaitAddresses polls until the instance has a private address and, when
// one is expected, a public address. 'publicIP' carries the elastic IP when
// one was associated, else empty.
//
// A public address is expected when the session uses public addressing OR
// the subnet auto-assigns one; in the latter case the machine gets a public
// address even though the session will connect privately.
func (a *Aws) awaitAddresses(ctx context.Context, instanceID, publicIP string) (string, string, error) {
	log := clog.FromContext(ctx)
	publicIPExpected := a.usePublicAddresses || a.subnetAutoAssignPublicIP
	if publicIPExpected {
		log.Info("waiting for instance private and public IP assignment", "id", instanceID)
	} else {
		log.Info("waiting for instance private IP assignment", "id", instanceID)
	}

	privateIP := ""
	for privateIP == "" || (publicIPExpected && publicIP == "") {
		// The instance cannot possibly be ready this soon after launch, so
		// sleep before the first attempt too.
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(a.describeInterval):
		}

		out, err := a.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			// Describing too soon after launch yields NotFound; only that
			// exact code is survivable, anything else means the resource
			// state is ambiguous and must fail loudly.
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
				log.Debug("instance not describable yet", "id", instanceID)
				continue
			}
			return "", "", fmt.Errorf("describing instance %s: %w", instanceID, err)
		}
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				if publicIP == "" {
					publicIP = aws.ToString(inst.PublicIpAddress)
				}
				privateIP = aws.ToString(inst.PrivateIpAddress)
			}
		}
	}
	return publicIP, privateIP, nil
}
