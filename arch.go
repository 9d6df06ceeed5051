package throwaway

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// archOfInstanceType derives the CPU architecture from an instance type's
// family. Graviton families carry a 'g' among the letters after the
// generation digits ("m6g", "c7gn", "t4g", "im4gn"); the GPU families whose
// name merely starts with 'g' ("g5.xlarge") stay x86. The first-generation
// "a1" family predates the naming convention.
func archOfInstanceType(it types.InstanceType) types.ArchitectureValues {
	family, _, _ := strings.Cut(string(it), ".")
	if family == "a1" {
		return types.ArchitectureValuesArm64
	}
	digit := strings.IndexFunc(family, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if digit < 0 {
		return types.ArchitectureValuesX8664
	}
	if strings.ContainsRune(family[digit:], 'g') {
		return types.ArchitectureValuesArm64
	}
	return types.ArchitectureValuesX8664
}

// ubuntuArchIdentifier maps an architecture to the identifier Canonical uses
// in its SSM image parameter paths.
func ubuntuArchIdentifier(arch types.ArchitectureValues) string {
	if arch == types.ArchitectureValuesArm64 {
		return "arm64"
	}
	return "amd64"
}
