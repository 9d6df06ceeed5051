package throwaway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var ErrNoPrincipal = fmt.Errorf("failed to derive a principal from the caller's credentials")

// lookupPrincipal derives the identity used to scope resource ownership.
//
// IAM users come back from GetUser directly. Assumed roles have no IAM user
// and GetUser fails for them, so we fall back to the caller identity ARN and
// take its final path segment: that stays stable across sessions of the same
// role, which is what ownership tagging needs.
func lookupPrincipal(ctx context.Context, iamAPI IAMAPI, stsAPI STSAPI) (string, error) {
	user, err := iamAPI.GetUser(ctx, &iam.GetUserInput{})
	if err == nil && user.User != nil && user.User.UserName != nil {
		return *user.User.UserName, nil
	}

	ident, stsErr := stsAPI.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if stsErr != nil {
		return "", fmt.Errorf("%w: GetUser: %w; GetCallerIdentity: %w", ErrNoPrincipal, err, stsErr)
	}
	arn := aws.ToString(ident.Arn)
	if i := strings.LastIndexByte(arn, '/'); i >= 0 && i+1 < len(arn) {
		return arn[i+1:], nil
	}
	return "", fmt.Errorf("%w: unparseable caller ARN %q", ErrNoPrincipal, arn)
}
