package aws

import (
	"context"
	"fmt"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
)

func kmsRotationControl() *controls.Control {
	return &controls.Control{
		ControlID:        "AWS-KMS-001",
		Title:            "KMS Key Rotation",
		Description:      "Customer-managed KMS keys must auto-rotate",
		Severity:         models.SeverityMedium,
		Category:         "Encryption",
		Provider:         models.ProviderAWS,
		CanAutoRemediate: true,
		RemediationRisk:  models.RiskLow,
		Frameworks: map[string][]string{
			"ISO27001": {"A.10.1.2"},
			"SOC2":     {"CC6.1"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			keys, err := adapter.ListResources(ctx, awsprovider.KindKMSKey)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, key := range keys {
				if !attrBool(key.Attributes, "rotation_enabled") {
					seeds = append(seeds, seed(key, map[string]interface{}{
						"key": attrString(key.Attributes, "key_id"),
					}, true, models.RiskLow))
				}
			}
			return seeds, nil
		},
		Remediate: func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
			keyID := attrString(finding.EvidenceBefore, "key_id")
			if keyID == "" {
				keyID = attrString(finding.FindingDetails, "key")
			}
			if keyID == "" {
				return nil, fmt.Errorf("finding carries no key id")
			}

			outcome := &models.RemediationOutcome{
				Success:     true,
				ResourceID:  finding.ResourceID,
				BeforeState: finding.EvidenceBefore,
				AfterState:  map[string]interface{}{"rotation_enabled": true},
				RollbackData: map[string]interface{}{
					"key_id":           keyID,
					"rotation_enabled": attrBool(finding.EvidenceBefore, "rotation_enabled"),
				},
			}
			if dryRun {
				return outcome, nil
			}

			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       awsprovider.KindKMSKey,
				ResourceID: finding.ResourceID,
				Action:     awsprovider.ActionEnableKeyRotation,
				Parameters: map[string]interface{}{"key_id": keyID},
			})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
		Rollback: func(ctx context.Context, adapter providers.Adapter, rollbackData map[string]interface{}) (*models.RemediationOutcome, error) {
			keyID := attrString(rollbackData, "key_id")
			if keyID == "" {
				return nil, fmt.Errorf("rollback data carries no key id")
			}

			action := awsprovider.ActionDisableKeyRotation
			if attrBool(rollbackData, "rotation_enabled") {
				action = awsprovider.ActionEnableKeyRotation
			}
			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       awsprovider.KindKMSKey,
				ResourceID: keyID,
				Action:     action,
				Parameters: map[string]interface{}{"key_id": keyID},
			})
			if err != nil {
				return nil, err
			}
			return &models.RemediationOutcome{
				Success:    true,
				ResourceID: keyID,
				AfterState: rollbackData,
			}, nil
		},
	}
}

func rdsEncryptionControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-RDS-001",
		Title:       "RDS Encryption",
		Description: "RDS storage must be encrypted",
		Severity:    models.SeverityHigh,
		Category:    "Encryption",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.10.1.1"},
			"GDPR":     {"Art.32"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			instances, err := adapter.ListResources(ctx, awsprovider.KindRDSInstance)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, db := range instances {
				if !attrBool(db.Attributes, "storage_encrypted") {
					seeds = append(seeds, seed(db, map[string]interface{}{
						"db": attrString(db.Attributes, "db_instance"),
					}, false, models.RiskHigh))
				}
			}
			return seeds, nil
		},
	}
}

func rdsPublicAccessControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-RDS-002",
		Title:       "RDS Not Public",
		Description: "RDS instances must not be publicly accessible",
		Severity:    models.SeverityCritical,
		Category:    "Network",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.3"},
			"SOC2":     {"CC6.6"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			instances, err := adapter.ListResources(ctx, awsprovider.KindRDSInstance)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, db := range instances {
				if attrBool(db.Attributes, "public") {
					seeds = append(seeds, seed(db, map[string]interface{}{
						"db": attrString(db.Attributes, "db_instance"),
					}, false, models.RiskHigh))
				}
			}
			return seeds, nil
		},
	}
}

func rdsBackupControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-RDS-003",
		Title:       "RDS Backup",
		Description: "RDS automated backups must retain at least seven days",
		Severity:    models.SeverityMedium,
		Category:    "Backup",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.3.1"},
			"SOC2":     {"A1.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			instances, err := adapter.ListResources(ctx, awsprovider.KindRDSInstance)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, db := range instances {
				if attrInt(db.Attributes, "backup_retention") < 7 {
					seeds = append(seeds, seed(db, map[string]interface{}{
						"db":        attrString(db.Attributes, "db_instance"),
						"retention": attrInt(db.Attributes, "backup_retention"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func snsEncryptionControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-SNS-001",
		Title:       "SNS Encryption",
		Description: "SNS topics must be encrypted at rest",
		Severity:    models.SeverityMedium,
		Category:    "Encryption",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.10.1.1"},
			"SOC2":     {"CC6.1"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			topics, err := adapter.ListResources(ctx, awsprovider.KindSNSTopic)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, topic := range topics {
				if attrString(topic.Attributes, "kms_key_id") == "" {
					seeds = append(seeds, seed(topic, map[string]interface{}{
						"topic": attrString(topic.Attributes, "topic_arn"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}
