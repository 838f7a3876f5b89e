// Package aws implements the provider adapter over aws-sdk-go-v2. The
// adapter is bound to one account's credentials for its lifetime,
// auto-paginates listings, classifies upstream errors, and retries
// throttled and transient failures before surfacing them.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	"github.com/avelinecloud/compliancemgr/internal/resilience"
)

// Resource kinds the AWS adapter serves.
const (
	KindIAMUser           providers.ResourceKind = "iam:user"
	KindIAMPasswordPolicy providers.ResourceKind = "iam:password_policy"
	KindS3Bucket          providers.ResourceKind = "s3:bucket"
	KindEC2Instance       providers.ResourceKind = "ec2:instance"
	KindEC2Volume         providers.ResourceKind = "ec2:volume"
	KindSecurityGroup     providers.ResourceKind = "ec2:security_group"
	KindVPC               providers.ResourceKind = "ec2:vpc"
	KindTrail             providers.ResourceKind = "cloudtrail:trail"
	KindKMSKey            providers.ResourceKind = "kms:key"
	KindRDSInstance       providers.ResourceKind = "rds:instance"
	KindLoadBalancer      providers.ResourceKind = "elb:load_balancer"
	KindConfigRecorder    providers.ResourceKind = "config:recorder"
	KindGuardDutyDetector providers.ResourceKind = "guardduty:detector"
	KindSNSTopic          providers.ResourceKind = "sns:topic"
	KindLambdaFunction    providers.ResourceKind = "lambda:function"
)

const assumeRoleSessionName = "ComplianceScanner"

// Adapter implements providers.Adapter for AWS. One instance per scan;
// never shared across scans.
type Adapter struct {
	region  string
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
	log     logger.Logger

	s3Client         *s3.Client
	iamClient        *iam.Client
	ec2Client        *ec2.Client
	kmsClient        *kms.Client
	cloudtrailClient *cloudtrail.Client
	rdsClient        *rds.Client
	elbClient        *elbv2.Client
	configClient     *configservice.Client
	guarddutyClient  *guardduty.Client
	snsClient        *sns.Client
	lambdaClient     *lambda.Client
}

// New builds an adapter from the account's opaque credentials blob. The
// blob carries either a role_arn for STS AssumeRole, static
// access_key_id/secret_access_key, or nothing (ambient chain).
// Credential material is held for the adapter's lifetime and never logged.
func New(ctx context.Context, region string, creds map[string]interface{}) (*Adapter, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := loadConfig(ctx, region, creds)
	if err != nil {
		return nil, providers.NewError(providers.ErrPermanent, "configure", "", err)
	}

	return &Adapter{
		region:           region,
		limiter:          rate.NewLimiter(rate.Limit(20), 40),
		retry:            resilience.CloudProviderRetryConfig(),
		log:              logger.New("providers.aws"),
		s3Client:         s3.NewFromConfig(cfg),
		iamClient:        iam.NewFromConfig(cfg),
		ec2Client:        ec2.NewFromConfig(cfg),
		kmsClient:        kms.NewFromConfig(cfg),
		cloudtrailClient: cloudtrail.NewFromConfig(cfg),
		rdsClient:        rds.NewFromConfig(cfg),
		elbClient:        elbv2.NewFromConfig(cfg),
		configClient:     configservice.NewFromConfig(cfg),
		guarddutyClient:  guardduty.NewFromConfig(cfg),
		snsClient:        sns.NewFromConfig(cfg),
		lambdaClient:     lambda.NewFromConfig(cfg),
	}, nil
}

func loadConfig(ctx context.Context, region string, creds map[string]interface{}) (awssdk.Config, error) {
	if roleARN, ok := creds["role_arn"].(string); ok && roleARN != "" {
		base, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			return awssdk.Config{}, err
		}
		stsClient := sts.NewFromConfig(base)
		provider := stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = assumeRoleSessionName
		})
		base.Credentials = awssdk.NewCredentialsCache(provider)
		return base, nil
	}

	if accessKey, ok := creds["access_key_id"].(string); ok && accessKey != "" {
		secretKey, _ := creds["secret_access_key"].(string)
		return config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

// Provider returns "aws"
func (a *Adapter) Provider() string {
	return "aws"
}

// Region returns the adapter's bound region.
func (a *Adapter) Region() string {
	return a.region
}

// call rate-limits and retries one upstream operation, classifying its
// error before deciding on another attempt.
func (a *Adapter) call(ctx context.Context, op, resource string, fn func(context.Context) error) error {
	return resilience.Retry(ctx, a.retry, providers.IsRetryable, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return providers.NewError(providers.ErrTransient, op, resource, err)
		}
		if err := fn(ctx); err != nil {
			return classify(op, resource, err)
		}
		return nil
	})
}

// classify maps an SDK error onto the adapter error taxonomy.
func classify(op, resource string, err error) *providers.Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "AuthorizationError", "UnauthorizedAccess":
			return providers.NewError(providers.ErrAccessDenied, op, resource, err)
		case "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded", "SlowDown", "ProvisionedThroughputExceededException":
			return providers.NewError(providers.ErrThrottled, op, resource, err)
		case "RequestTimeout", "ServiceUnavailable", "InternalError", "InternalFailure", "InternalServiceError":
			return providers.NewError(providers.ErrTransient, op, resource, err)
		case "NoSuchBucket", "NoSuchEntity", "NotFoundException", "ResourceNotFoundException", "NoSuchEntityException", "TrailNotFoundException", "DBInstanceNotFound", "LoadBalancerNotFound":
			return providers.NewError(providers.ErrNotFound, op, resource, err)
		}
		return providers.NewError(providers.ErrPermanent, op, resource, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return providers.NewError(providers.ErrTransient, op, resource, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewError(providers.ErrTransient, op, resource, err)
	}
	return providers.NewError(providers.ErrPermanent, op, resource, err)
}

// isAbsentConfig reports errors that mean "sub-resource not configured",
// which the listings fold into attributes instead of failing.
func isAbsentConfig(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchPublicAccessBlockConfiguration",
			"ServerSideEncryptionConfigurationNotFoundError",
			"NoSuchEntity":
			return true
		}
	}
	return false
}

// Describe returns a single resource by listing its kind and selecting.
// The per-kind listings already return fully described resources, so a
// point read does not need a second description pass.
func (a *Adapter) Describe(ctx context.Context, kind providers.ResourceKind, id string) (*providers.Resource, error) {
	resources, err := a.ListResources(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range resources {
		if resources[i].ID == id || resources[i].Name == id {
			return &resources[i], nil
		}
	}
	return nil, providers.NewError(providers.ErrNotFound, "describe", id, fmt.Errorf("%s %q not found", kind, id))
}
