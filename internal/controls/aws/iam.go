package aws

import (
	"context"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
)

func iamMFAControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-IAM-001",
		Title:       "MFA Required",
		Description: "MFA must be enabled for every IAM user",
		Severity:    models.SeverityCritical,
		Category:    "IAM",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.9.2.1"},
			"SOC2":     {"CC6.1"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			users, err := adapter.ListResources(ctx, awsprovider.KindIAMUser)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, user := range users {
				if !attrBool(user.Attributes, "mfa_active") {
					seeds = append(seeds, seed(user, map[string]interface{}{
						"user": attrString(user.Attributes, "user_name"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func iamPasswordPolicyControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-IAM-003",
		Title:       "Password Policy",
		Description: "A strong account password policy is required",
		Severity:    models.SeverityHigh,
		Category:    "IAM",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.9.4.3"},
			"SOC2":     {"CC6.1"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			policies, err := adapter.ListResources(ctx, awsprovider.KindIAMPasswordPolicy)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, policy := range policies {
				compliant := attrBool(policy.Attributes, "configured") &&
					attrBool(policy.Attributes, "require_uppercase") &&
					attrInt(policy.Attributes, "minimum_length") >= 14
				if !compliant {
					seeds = append(seeds, seed(policy, map[string]interface{}{
						"configured":     attrBool(policy.Attributes, "configured"),
						"minimum_length": attrInt(policy.Attributes, "minimum_length"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}
