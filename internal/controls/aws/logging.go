package aws

import (
	"context"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
)

func cloudTrailControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-CT-001",
		Title:       "CloudTrail Enabled",
		Description: "CloudTrail must be enabled and logging",
		Severity:    models.SeverityCritical,
		Category:    "Logging",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.4.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			trails, err := adapter.ListResources(ctx, awsprovider.KindTrail)
			if err != nil {
				return nil, err
			}
			if len(trails) == 0 {
				return []models.FindingSeed{{
					ResourceID:      "aws:cloudtrail",
					ResourceType:    "CloudTrail",
					FindingDetails:  map[string]interface{}{"trails": 0},
					Evidence:        map[string]interface{}{"trails": 0},
					RemediationRisk: models.RiskHigh,
				}}, nil
			}
			var seeds []models.FindingSeed
			for _, trail := range trails {
				if !attrBool(trail.Attributes, "is_logging") {
					seeds = append(seeds, seed(trail, map[string]interface{}{
						"trail": attrString(trail.Attributes, "trail"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func elbLogsControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-ELB-001",
		Title:       "ELB Access Logs",
		Description: "Load balancer access logs are required",
		Severity:    models.SeverityMedium,
		Category:    "Logging",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.4.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			loadBalancers, err := adapter.ListResources(ctx, awsprovider.KindLoadBalancer)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, lb := range loadBalancers {
				if !attrBool(lb.Attributes, "access_logs_enabled") {
					seeds = append(seeds, seed(lb, map[string]interface{}{
						"lb": attrString(lb.Attributes, "load_balancer"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func configRecorderControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-CONFIG-001",
		Title:       "AWS Config Enabled",
		Description: "AWS Config must record resource configuration",
		Severity:    models.SeverityMedium,
		Category:    "Logging",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.4.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			recorders, err := adapter.ListResources(ctx, awsprovider.KindConfigRecorder)
			if err != nil {
				return nil, err
			}
			if len(recorders) == 0 {
				return []models.FindingSeed{{
					ResourceID:      "aws:config",
					ResourceType:    "Config",
					FindingDetails:  map[string]interface{}{"recorders": 0},
					Evidence:        map[string]interface{}{"recorders": 0},
					RemediationRisk: models.RiskLow,
				}}, nil
			}
			return nil, nil
		},
	}
}

func guardDutyControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-GD-001",
		Title:       "GuardDuty Enabled",
		Description: "GuardDuty threat detection must be enabled",
		Severity:    models.SeverityHigh,
		Category:    "ThreatDetection",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.6.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			detectors, err := adapter.ListResources(ctx, awsprovider.KindGuardDutyDetector)
			if err != nil {
				return nil, err
			}
			if len(detectors) == 0 {
				return []models.FindingSeed{{
					ResourceID:      "aws:guardduty",
					ResourceType:    "GuardDuty",
					FindingDetails:  map[string]interface{}{"detectors": 0},
					Evidence:        map[string]interface{}{"detectors": 0},
					RemediationRisk: models.RiskLow,
				}}, nil
			}
			return nil, nil
		},
	}
}
