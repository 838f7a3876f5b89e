package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/avelinecloud/compliancemgr/internal/providers"
)

// ListResources returns the complete, described collection for a kind.
func (a *Adapter) ListResources(ctx context.Context, kind providers.ResourceKind) ([]providers.Resource, error) {
	switch kind {
	case KindIAMUser:
		return a.listIAMUsers(ctx)
	case KindIAMPasswordPolicy:
		return a.listPasswordPolicy(ctx)
	case KindS3Bucket:
		return a.listS3Buckets(ctx)
	case KindEC2Instance:
		return a.listEC2Instances(ctx)
	case KindEC2Volume:
		return a.listEC2Volumes(ctx)
	case KindSecurityGroup:
		return a.listSecurityGroups(ctx)
	case KindVPC:
		return a.listVPCs(ctx)
	case KindTrail:
		return a.listTrails(ctx)
	case KindKMSKey:
		return a.listKMSKeys(ctx)
	case KindRDSInstance:
		return a.listRDSInstances(ctx)
	case KindLoadBalancer:
		return a.listLoadBalancers(ctx)
	case KindConfigRecorder:
		return a.listConfigRecorders(ctx)
	case KindGuardDutyDetector:
		return a.listGuardDutyDetectors(ctx)
	case KindSNSTopic:
		return a.listSNSTopics(ctx)
	case KindLambdaFunction:
		return a.listLambdaFunctions(ctx)
	default:
		return nil, providers.NewError(providers.ErrPermanent, "list", string(kind),
			fmt.Errorf("unsupported resource kind %q", kind))
	}
}

func (a *Adapter) listIAMUsers(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "iam:ListUsers", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := iam.NewListUsersPaginator(a.iamClient, &iam.ListUsersInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, user := range page.Users {
				userName := awssdk.ToString(user.UserName)
				out, err := a.iamClient.ListMFADevices(ctx, &iam.ListMFADevicesInput{UserName: user.UserName})
				mfaCount := 0
				if err == nil {
					mfaCount = len(out.MFADevices)
				} else if !isAbsentConfig(err) {
					return err
				}
				resources = append(resources, providers.Resource{
					ID:   awssdk.ToString(user.Arn),
					Kind: KindIAMUser,
					Name: userName,
					Attributes: map[string]interface{}{
						"user_name":  userName,
						"mfa_active": mfaCount > 0,
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listPasswordPolicy(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "iam:GetAccountPasswordPolicy", "", func(ctx context.Context) error {
		out, err := a.iamClient.GetAccountPasswordPolicy(ctx, &iam.GetAccountPasswordPolicyInput{})
		if err != nil {
			if isAbsentConfig(err) {
				resources = []providers.Resource{{
					ID:   "iam:password-policy",
					Kind: KindIAMPasswordPolicy,
					Name: "password-policy",
					Attributes: map[string]interface{}{
						"configured": false,
					},
				}}
				return nil
			}
			return err
		}
		policy := out.PasswordPolicy
		resources = []providers.Resource{{
			ID:   "iam:password-policy",
			Kind: KindIAMPasswordPolicy,
			Name: "password-policy",
			Attributes: map[string]interface{}{
				"configured":        true,
				"minimum_length":    int(awssdk.ToInt32(policy.MinimumPasswordLength)),
				"require_uppercase": policy.RequireUppercaseCharacters,
				"require_symbols":   policy.RequireSymbols,
				"require_numbers":   policy.RequireNumbers,
			},
		}}
		return nil
	})
	return resources, err
}

func (a *Adapter) listS3Buckets(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "s3:ListBuckets", "", func(ctx context.Context) error {
		resources = resources[:0]
		out, err := a.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return err
		}
		for _, bucket := range out.Buckets {
			name := awssdk.ToString(bucket.Name)
			attrs, err := a.describeBucket(ctx, name)
			if err != nil {
				return err
			}
			resources = append(resources, providers.Resource{
				ID:         "arn:aws:s3:::" + name,
				Kind:       KindS3Bucket,
				Name:       name,
				Region:     a.region,
				Attributes: attrs,
			})
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) describeBucket(ctx context.Context, name string) (map[string]interface{}, error) {
	attrs := map[string]interface{}{
		"bucket": name,
	}

	pab, err := a.s3Client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: awssdk.String(name)})
	switch {
	case err == nil && pab.PublicAccessBlockConfiguration != nil:
		cfg := pab.PublicAccessBlockConfiguration
		attrs["public_access_block_configured"] = true
		attrs["block_public_acls"] = awssdk.ToBool(cfg.BlockPublicAcls)
		attrs["block_public_policy"] = awssdk.ToBool(cfg.BlockPublicPolicy)
		attrs["ignore_public_acls"] = awssdk.ToBool(cfg.IgnorePublicAcls)
		attrs["restrict_public_buckets"] = awssdk.ToBool(cfg.RestrictPublicBuckets)
	case err != nil && isAbsentConfig(err):
		attrs["public_access_block_configured"] = false
		attrs["block_public_acls"] = false
		attrs["block_public_policy"] = false
		attrs["ignore_public_acls"] = false
		attrs["restrict_public_buckets"] = false
	case err != nil:
		return nil, err
	}

	enc, err := a.s3Client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: awssdk.String(name)})
	switch {
	case err == nil && enc.ServerSideEncryptionConfiguration != nil && len(enc.ServerSideEncryptionConfiguration.Rules) > 0:
		attrs["encryption_enabled"] = true
		rule := enc.ServerSideEncryptionConfiguration.Rules[0]
		if rule.ApplyServerSideEncryptionByDefault != nil {
			attrs["sse_algorithm"] = string(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm)
		}
	case err != nil && isAbsentConfig(err):
		attrs["encryption_enabled"] = false
	case err != nil:
		return nil, err
	default:
		attrs["encryption_enabled"] = false
	}

	ver, err := a.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: awssdk.String(name)})
	if err != nil {
		return nil, err
	}
	attrs["versioning_enabled"] = ver.Status == s3types.BucketVersioningStatusEnabled

	logging, err := a.s3Client.GetBucketLogging(ctx, &s3.GetBucketLoggingInput{Bucket: awssdk.String(name)})
	if err != nil {
		return nil, err
	}
	attrs["logging_enabled"] = logging.LoggingEnabled != nil

	return attrs, nil
}

func (a *Adapter) listEC2Instances(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "ec2:DescribeInstances", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := ec2.NewDescribeInstancesPaginator(a.ec2Client, &ec2.DescribeInstancesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					id := awssdk.ToString(instance.InstanceId)
					resources = append(resources, providers.Resource{
						ID:     id,
						Kind:   KindEC2Instance,
						Name:   id,
						Region: a.region,
						Attributes: map[string]interface{}{
							"instance_id": id,
							"public_ip":   awssdk.ToString(instance.PublicIpAddress),
						},
					})
				}
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listEC2Volumes(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "ec2:DescribeVolumes", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := ec2.NewDescribeVolumesPaginator(a.ec2Client, &ec2.DescribeVolumesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, volume := range page.Volumes {
				id := awssdk.ToString(volume.VolumeId)
				resources = append(resources, providers.Resource{
					ID:     id,
					Kind:   KindEC2Volume,
					Name:   id,
					Region: a.region,
					Attributes: map[string]interface{}{
						"volume_id": id,
						"encrypted": awssdk.ToBool(volume.Encrypted),
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listSecurityGroups(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "ec2:DescribeSecurityGroups", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := ec2.NewDescribeSecurityGroupsPaginator(a.ec2Client, &ec2.DescribeSecurityGroupsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, group := range page.SecurityGroups {
				id := awssdk.ToString(group.GroupId)
				openToWorld := false
				for _, perm := range group.IpPermissions {
					for _, ipRange := range perm.IpRanges {
						if awssdk.ToString(ipRange.CidrIp) == "0.0.0.0/0" {
							openToWorld = true
						}
					}
				}
				resources = append(resources, providers.Resource{
					ID:     id,
					Kind:   KindSecurityGroup,
					Name:   awssdk.ToString(group.GroupName),
					Region: a.region,
					Attributes: map[string]interface{}{
						"group_id":      id,
						"open_to_world": openToWorld,
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listVPCs(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "ec2:DescribeVpcs", "", func(ctx context.Context) error {
		resources = resources[:0]
		vpcs, err := a.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
		if err != nil {
			return err
		}
		flowLogs, err := a.ec2Client.DescribeFlowLogs(ctx, &ec2.DescribeFlowLogsInput{})
		if err != nil {
			return err
		}
		withLogs := make(map[string]bool)
		for _, fl := range flowLogs.FlowLogs {
			withLogs[awssdk.ToString(fl.ResourceId)] = true
		}
		for _, vpc := range vpcs.Vpcs {
			id := awssdk.ToString(vpc.VpcId)
			resources = append(resources, providers.Resource{
				ID:     id,
				Kind:   KindVPC,
				Name:   id,
				Region: a.region,
				Attributes: map[string]interface{}{
					"vpc_id":            id,
					"flow_logs_enabled": withLogs[id],
				},
			})
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listTrails(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "cloudtrail:DescribeTrails", "", func(ctx context.Context) error {
		resources = resources[:0]
		out, err := a.cloudtrailClient.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
		if err != nil {
			return err
		}
		for _, trail := range out.TrailList {
			arn := awssdk.ToString(trail.TrailARN)
			isLogging := false
			status, err := a.cloudtrailClient.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: trail.TrailARN})
			if err == nil {
				isLogging = awssdk.ToBool(status.IsLogging)
			} else if providers.ClassOf(classify("cloudtrail:GetTrailStatus", arn, err)) != providers.ErrNotFound {
				return err
			}
			resources = append(resources, providers.Resource{
				ID:     arn,
				Kind:   KindTrail,
				Name:   awssdk.ToString(trail.Name),
				Region: a.region,
				Attributes: map[string]interface{}{
					"trail":      awssdk.ToString(trail.Name),
					"is_logging": isLogging,
				},
			})
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listKMSKeys(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "kms:ListKeys", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := kms.NewListKeysPaginator(a.kmsClient, &kms.ListKeysInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, key := range page.Keys {
				keyID := awssdk.ToString(key.KeyId)
				meta, err := a.kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: key.KeyId})
				if err != nil {
					return err
				}
				if meta.KeyMetadata == nil || meta.KeyMetadata.KeyManager != kmstypes.KeyManagerTypeCustomer {
					continue
				}
				rotationEnabled := false
				rotation, err := a.kmsClient.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{KeyId: key.KeyId})
				if err == nil {
					rotationEnabled = rotation.KeyRotationEnabled
				} else if !isAbsentConfig(err) {
					return err
				}
				resources = append(resources, providers.Resource{
					ID:     awssdk.ToString(meta.KeyMetadata.Arn),
					Kind:   KindKMSKey,
					Name:   keyID,
					Region: a.region,
					Attributes: map[string]interface{}{
						"key_id":           keyID,
						"rotation_enabled": rotationEnabled,
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listRDSInstances(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "rds:DescribeDBInstances", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := rds.NewDescribeDBInstancesPaginator(a.rdsClient, &rds.DescribeDBInstancesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, db := range page.DBInstances {
				identifier := awssdk.ToString(db.DBInstanceIdentifier)
				resources = append(resources, providers.Resource{
					ID:     awssdk.ToString(db.DBInstanceArn),
					Kind:   KindRDSInstance,
					Name:   identifier,
					Region: a.region,
					Attributes: map[string]interface{}{
						"db_instance":       identifier,
						"storage_encrypted": awssdk.ToBool(db.StorageEncrypted),
						"public":            awssdk.ToBool(db.PubliclyAccessible),
						"backup_retention":  int(awssdk.ToInt32(db.BackupRetentionPeriod)),
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listLoadBalancers(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "elbv2:DescribeLoadBalancers", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := elbv2.NewDescribeLoadBalancersPaginator(a.elbClient, &elbv2.DescribeLoadBalancersInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, lb := range page.LoadBalancers {
				arn := awssdk.ToString(lb.LoadBalancerArn)
				attrsOut, err := a.elbClient.DescribeLoadBalancerAttributes(ctx,
					&elbv2.DescribeLoadBalancerAttributesInput{LoadBalancerArn: lb.LoadBalancerArn})
				if err != nil {
					return err
				}
				accessLogs := false
				for _, attr := range attrsOut.Attributes {
					if awssdk.ToString(attr.Key) == "access_logs.s3.enabled" && awssdk.ToString(attr.Value) == "true" {
						accessLogs = true
					}
				}
				resources = append(resources, providers.Resource{
					ID:     arn,
					Kind:   KindLoadBalancer,
					Name:   awssdk.ToString(lb.LoadBalancerName),
					Region: a.region,
					Attributes: map[string]interface{}{
						"load_balancer":       awssdk.ToString(lb.LoadBalancerName),
						"access_logs_enabled": accessLogs,
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listConfigRecorders(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "config:DescribeConfigurationRecorders", "", func(ctx context.Context) error {
		resources = resources[:0]
		out, err := a.configClient.DescribeConfigurationRecorders(ctx, &configservice.DescribeConfigurationRecordersInput{})
		if err != nil {
			return err
		}
		for _, recorder := range out.ConfigurationRecorders {
			name := awssdk.ToString(recorder.Name)
			resources = append(resources, providers.Resource{
				ID:     "aws:config:" + name,
				Kind:   KindConfigRecorder,
				Name:   name,
				Region: a.region,
				Attributes: map[string]interface{}{
					"recorder": name,
				},
			})
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listGuardDutyDetectors(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "guardduty:ListDetectors", "", func(ctx context.Context) error {
		resources = resources[:0]
		out, err := a.guarddutyClient.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
		if err != nil {
			return err
		}
		for _, id := range out.DetectorIds {
			resources = append(resources, providers.Resource{
				ID:     "aws:guardduty:" + id,
				Kind:   KindGuardDutyDetector,
				Name:   id,
				Region: a.region,
				Attributes: map[string]interface{}{
					"detector_id": id,
				},
			})
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listSNSTopics(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "sns:ListTopics", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := sns.NewListTopicsPaginator(a.snsClient, &sns.ListTopicsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, topic := range page.Topics {
				arn := awssdk.ToString(topic.TopicArn)
				attrsOut, err := a.snsClient.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: topic.TopicArn})
				if err != nil {
					return err
				}
				resources = append(resources, providers.Resource{
					ID:     arn,
					Kind:   KindSNSTopic,
					Name:   arn,
					Region: a.region,
					Attributes: map[string]interface{}{
						"topic_arn":  arn,
						"kms_key_id": attrsOut.Attributes["KmsMasterKeyId"],
					},
				})
			}
		}
		return nil
	})
	return resources, err
}

func (a *Adapter) listLambdaFunctions(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "lambda:ListFunctions", "", func(ctx context.Context) error {
		resources = resources[:0]
		paginator := lambda.NewListFunctionsPaginator(a.lambdaClient, &lambda.ListFunctionsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, fn := range page.Functions {
				name := awssdk.ToString(fn.FunctionName)
				vpcID := ""
				if fn.VpcConfig != nil {
					vpcID = awssdk.ToString(fn.VpcConfig.VpcId)
				}
				resources = append(resources, providers.Resource{
					ID:     awssdk.ToString(fn.FunctionArn),
					Kind:   KindLambdaFunction,
					Name:   name,
					Region: a.region,
					Attributes: map[string]interface{}{
						"function": name,
						"vpc_id":   vpcID,
					},
				})
			}
		}
		return nil
	})
	return resources, err
}
