package throwaway

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// OS selects the operating system image an instance boots.
type OS string

const (
	OSUbuntu2004 OS = "20.04"
	OSUbuntu2204 OS = "22.04"
)

// InstanceDefinition describes one machine for CreateEC2Instance. Only
// InstanceType is required.
type InstanceDefinition struct {
	// InstanceType is the machine shape, e.g. "t3.medium". The CPU
	// architecture of the image is derived from it.
	InstanceType types.InstanceType

	// VolumeSizeGB is the root volume size. Defaults to 8.
	VolumeSizeGB int32

	// NetworkInterfaceCount is the number of network interfaces to attach.
	// Defaults to 1.
	//
	// Values above 1 force an elastic IP when public addressing is in use:
	// AWS does not auto-assign a public address to instances launched with
	// explicit network interfaces. Elastic IPs are a capped resource (the
	// default account limit is 5 concurrently).
	NetworkInterfaceCount int

	// OS selects the Ubuntu release. Defaults to OSUbuntu2204.
	OS OS

	// AMI overrides image resolution with an explicit image id. When empty,
	// the image is resolved at launch through the provider-maintained SSM
	// parameter for the chosen OS and architecture.
	AMI string
}

func (d *InstanceDefinition) applyDefaults() {
	if d.VolumeSizeGB == 0 {
		d.VolumeSizeGB = 8
	}
	if d.NetworkInterfaceCount == 0 {
		d.NetworkInterfaceCount = 1
	}
	if d.OS == "" {
		d.OS = OSUbuntu2204
	}
}

func (d *InstanceDefinition) validate() error {
	if d.InstanceType == "" {
		return fmt.Errorf("instance type is required")
	}
	if d.NetworkInterfaceCount < 0 {
		return fmt.Errorf("network interface count must be positive")
	}
	switch d.OS {
	case OSUbuntu2004, OSUbuntu2204:
	default:
		return fmt.Errorf("unsupported OS %q", d.OS)
	}
	return nil
}

// imageID resolves the image reference sent in the launch call.
func (d *InstanceDefinition) imageID() string {
	if d.AMI != "" {
		return d.AMI
	}
	return fmt.Sprintf(
		"resolve:ssm:/aws/service/canonical/ubuntu/server/%s/stable/current/%s/hvm/ebs-gp2/ami-id",
		d.OS,
		ubuntuArchIdentifier(archOfInstanceType(d.InstanceType)),
	)
}
