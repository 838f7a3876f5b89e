package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/avelinecloud/compliancemgr/internal/providers"
)

// Mutation actions the AWS adapter applies.
const (
	ActionPutPublicAccessBlock   = "put_public_access_block"
	ActionPutBucketEncryption    = "put_bucket_encryption"
	ActionDeleteBucketEncryption = "delete_bucket_encryption"
	ActionEnableKeyRotation      = "enable_key_rotation"
	ActionDisableKeyRotation     = "disable_key_rotation"
)

// Apply executes one mutation. Only remediation and rollback reach here.
func (a *Adapter) Apply(ctx context.Context, mutation providers.Mutation) error {
	switch mutation.Action {
	case ActionPutPublicAccessBlock:
		return a.putPublicAccessBlock(ctx, mutation)
	case ActionPutBucketEncryption:
		return a.putBucketEncryption(ctx, mutation)
	case ActionDeleteBucketEncryption:
		return a.deleteBucketEncryption(ctx, mutation)
	case ActionEnableKeyRotation:
		return a.setKeyRotation(ctx, mutation, true)
	case ActionDisableKeyRotation:
		return a.setKeyRotation(ctx, mutation, false)
	default:
		return providers.NewError(providers.ErrPermanent, "apply", mutation.ResourceID,
			fmt.Errorf("unsupported mutation action %q", mutation.Action))
	}
}

func paramBool(params map[string]interface{}, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func paramString(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func (a *Adapter) putPublicAccessBlock(ctx context.Context, mutation providers.Mutation) error {
	bucket := paramString(mutation.Parameters, "bucket")
	if bucket == "" {
		return providers.NewError(providers.ErrPermanent, "s3:PutPublicAccessBlock", mutation.ResourceID,
			fmt.Errorf("bucket parameter is required"))
	}
	return a.call(ctx, "s3:PutPublicAccessBlock", bucket, func(ctx context.Context) error {
		_, err := a.s3Client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: awssdk.String(bucket),
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       awssdk.Bool(paramBool(mutation.Parameters, "block_public_acls")),
				BlockPublicPolicy:     awssdk.Bool(paramBool(mutation.Parameters, "block_public_policy")),
				IgnorePublicAcls:      awssdk.Bool(paramBool(mutation.Parameters, "ignore_public_acls")),
				RestrictPublicBuckets: awssdk.Bool(paramBool(mutation.Parameters, "restrict_public_buckets")),
			},
		})
		return err
	})
}

func (a *Adapter) putBucketEncryption(ctx context.Context, mutation providers.Mutation) error {
	bucket := paramString(mutation.Parameters, "bucket")
	if bucket == "" {
		return providers.NewError(providers.ErrPermanent, "s3:PutBucketEncryption", mutation.ResourceID,
			fmt.Errorf("bucket parameter is required"))
	}
	algorithm := s3types.ServerSideEncryption(paramString(mutation.Parameters, "sse_algorithm"))
	if algorithm == "" {
		algorithm = s3types.ServerSideEncryptionAes256
	}
	return a.call(ctx, "s3:PutBucketEncryption", bucket, func(ctx context.Context) error {
		_, err := a.s3Client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: awssdk.String(bucket),
			ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
				Rules: []s3types.ServerSideEncryptionRule{{
					ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
						SSEAlgorithm: algorithm,
					},
				}},
			},
		})
		return err
	})
}

func (a *Adapter) deleteBucketEncryption(ctx context.Context, mutation providers.Mutation) error {
	bucket := paramString(mutation.Parameters, "bucket")
	if bucket == "" {
		return providers.NewError(providers.ErrPermanent, "s3:DeleteBucketEncryption", mutation.ResourceID,
			fmt.Errorf("bucket parameter is required"))
	}
	return a.call(ctx, "s3:DeleteBucketEncryption", bucket, func(ctx context.Context) error {
		_, err := a.s3Client.DeleteBucketEncryption(ctx, &s3.DeleteBucketEncryptionInput{
			Bucket: awssdk.String(bucket),
		})
		return err
	})
}

func (a *Adapter) setKeyRotation(ctx context.Context, mutation providers.Mutation, enable bool) error {
	keyID := paramString(mutation.Parameters, "key_id")
	if keyID == "" {
		return providers.NewError(providers.ErrPermanent, "kms:SetKeyRotation", mutation.ResourceID,
			fmt.Errorf("key_id parameter is required"))
	}
	op := "kms:EnableKeyRotation"
	if !enable {
		op = "kms:DisableKeyRotation"
	}
	return a.call(ctx, op, keyID, func(ctx context.Context) error {
		if enable {
			_, err := a.kmsClient.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: awssdk.String(keyID)})
			return err
		}
		_, err := a.kmsClient.DisableKeyRotation(ctx, &kms.DisableKeyRotationInput{KeyId: awssdk.String(keyID)})
		return err
	})
}
