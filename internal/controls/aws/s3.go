package aws

import (
	"context"
	"fmt"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
)

var publicAccessFlags = []string{"block_public_acls", "block_public_policy", "ignore_public_acls", "restrict_public_buckets"}

func s3PublicAccessControl() *controls.Control {
	return &controls.Control{
		ControlID:        "AWS-S3-001",
		Title:            "Block Public Access",
		Description:      "S3 buckets must block public access",
		Severity:         models.SeverityCritical,
		Category:         "Storage",
		Provider:         models.ProviderAWS,
		CanAutoRemediate: true,
		RemediationRisk:  models.RiskHigh,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.3"},
			"GDPR":     {"Art.32"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			buckets, err := adapter.ListResources(ctx, awsprovider.KindS3Bucket)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, bucket := range buckets {
				blocked := attrBool(bucket.Attributes, "block_public_acls") &&
					attrBool(bucket.Attributes, "block_public_policy")
				if !blocked {
					seeds = append(seeds, seed(bucket, map[string]interface{}{
						"bucket": attrString(bucket.Attributes, "bucket"),
					}, true, models.RiskHigh))
				}
			}
			return seeds, nil
		},
		Remediate: func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
			bucket := bucketName(finding)
			if bucket == "" {
				return nil, fmt.Errorf("finding carries no bucket name")
			}

			rollbackData := map[string]interface{}{
				"bucket": bucket,
				"public_access_block_configured": attrBool(finding.EvidenceBefore, "public_access_block_configured"),
			}
			for _, flag := range publicAccessFlags {
				rollbackData[flag] = attrBool(finding.EvidenceBefore, flag)
			}

			outcome := &models.RemediationOutcome{
				Success:      true,
				ResourceID:   finding.ResourceID,
				BeforeState:  finding.EvidenceBefore,
				AfterState:   map[string]interface{}{"blocked": true},
				RollbackData: rollbackData,
			}
			if dryRun {
				return outcome, nil
			}

			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       awsprovider.KindS3Bucket,
				ResourceID: finding.ResourceID,
				Action:     awsprovider.ActionPutPublicAccessBlock,
				Parameters: map[string]interface{}{
					"bucket":                  bucket,
					"block_public_acls":       true,
					"block_public_policy":     true,
					"ignore_public_acls":      true,
					"restrict_public_buckets": true,
				},
			})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
		Rollback: func(ctx context.Context, adapter providers.Adapter, rollbackData map[string]interface{}) (*models.RemediationOutcome, error) {
			bucket := attrString(rollbackData, "bucket")
			if bucket == "" {
				return nil, fmt.Errorf("rollback data carries no bucket name")
			}

			parameters := map[string]interface{}{"bucket": bucket}
			for _, flag := range publicAccessFlags {
				parameters[flag] = attrBool(rollbackData, flag)
			}
			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       awsprovider.KindS3Bucket,
				ResourceID: "arn:aws:s3:::" + bucket,
				Action:     awsprovider.ActionPutPublicAccessBlock,
				Parameters: parameters,
			})
			if err != nil {
				return nil, err
			}
			return &models.RemediationOutcome{
				Success:    true,
				ResourceID: "arn:aws:s3:::" + bucket,
				AfterState: rollbackData,
			}, nil
		},
	}
}

func s3EncryptionControl() *controls.Control {
	return &controls.Control{
		ControlID:        "AWS-S3-002",
		Title:            "S3 Encryption",
		Description:      "S3 buckets must have default encryption",
		Severity:         models.SeverityHigh,
		Category:         "Encryption",
		Provider:         models.ProviderAWS,
		CanAutoRemediate: true,
		RemediationRisk:  models.RiskLow,
		Frameworks: map[string][]string{
			"ISO27001": {"A.10.1.1"},
			"SOC2":     {"CC6.1"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			buckets, err := adapter.ListResources(ctx, awsprovider.KindS3Bucket)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, bucket := range buckets {
				if !attrBool(bucket.Attributes, "encryption_enabled") {
					seeds = append(seeds, seed(bucket, map[string]interface{}{
						"bucket": attrString(bucket.Attributes, "bucket"),
					}, true, models.RiskLow))
				}
			}
			return seeds, nil
		},
		Remediate: func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
			bucket := bucketName(finding)
			if bucket == "" {
				return nil, fmt.Errorf("finding carries no bucket name")
			}

			outcome := &models.RemediationOutcome{
				Success:     true,
				ResourceID:  finding.ResourceID,
				BeforeState: finding.EvidenceBefore,
				AfterState:  map[string]interface{}{"encryption_enabled": true, "sse_algorithm": "AES256"},
				RollbackData: map[string]interface{}{
					"bucket":             bucket,
					"encryption_enabled": attrBool(finding.EvidenceBefore, "encryption_enabled"),
					"sse_algorithm":      attrString(finding.EvidenceBefore, "sse_algorithm"),
				},
			}
			if dryRun {
				return outcome, nil
			}

			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       awsprovider.KindS3Bucket,
				ResourceID: finding.ResourceID,
				Action:     awsprovider.ActionPutBucketEncryption,
				Parameters: map[string]interface{}{"bucket": bucket, "sse_algorithm": "AES256"},
			})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
		Rollback: func(ctx context.Context, adapter providers.Adapter, rollbackData map[string]interface{}) (*models.RemediationOutcome, error) {
			bucket := attrString(rollbackData, "bucket")
			if bucket == "" {
				return nil, fmt.Errorf("rollback data carries no bucket name")
			}

			mutation := providers.Mutation{
				Kind:       awsprovider.KindS3Bucket,
				ResourceID: "arn:aws:s3:::" + bucket,
				Parameters: map[string]interface{}{"bucket": bucket},
			}
			if attrBool(rollbackData, "encryption_enabled") {
				mutation.Action = awsprovider.ActionPutBucketEncryption
				mutation.Parameters["sse_algorithm"] = attrString(rollbackData, "sse_algorithm")
			} else {
				mutation.Action = awsprovider.ActionDeleteBucketEncryption
			}
			if err := adapter.Apply(ctx, mutation); err != nil {
				return nil, err
			}
			return &models.RemediationOutcome{
				Success:    true,
				ResourceID: "arn:aws:s3:::" + bucket,
				AfterState: rollbackData,
			}, nil
		},
	}
}

func s3VersioningControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-S3-003",
		Title:       "S3 Versioning",
		Description: "S3 versioning must be enabled for recovery",
		Severity:    models.SeverityMedium,
		Category:    "Backup",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.3.1"},
			"SOC2":     {"A1.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			buckets, err := adapter.ListResources(ctx, awsprovider.KindS3Bucket)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, bucket := range buckets {
				if !attrBool(bucket.Attributes, "versioning_enabled") {
					seeds = append(seeds, seed(bucket, map[string]interface{}{
						"bucket": attrString(bucket.Attributes, "bucket"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func s3LoggingControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-S3-004",
		Title:       "S3 Access Logs",
		Description: "S3 access logging is required",
		Severity:    models.SeverityMedium,
		Category:    "Logging",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.4.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			buckets, err := adapter.ListResources(ctx, awsprovider.KindS3Bucket)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, bucket := range buckets {
				if !attrBool(bucket.Attributes, "logging_enabled") {
					seeds = append(seeds, seed(bucket, map[string]interface{}{
						"bucket": attrString(bucket.Attributes, "bucket"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func bucketName(finding *models.Finding) string {
	if name := attrString(finding.EvidenceBefore, "bucket"); name != "" {
		return name
	}
	return attrString(finding.FindingDetails, "bucket")
}
