package aws

import (
	"context"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
)

func ec2PublicIPControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-EC2-001",
		Title:       "No Public IPs",
		Description: "EC2 instances should not carry public IP addresses",
		Severity:    models.SeverityHigh,
		Category:    "Network",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.1"},
			"SOC2":     {"CC6.6"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			instances, err := adapter.ListResources(ctx, awsprovider.KindEC2Instance)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, instance := range instances {
				if ip := attrString(instance.Attributes, "public_ip"); ip != "" {
					seeds = append(seeds, seed(instance, map[string]interface{}{
						"instance": attrString(instance.Attributes, "instance_id"),
						"ip":       ip,
					}, false, models.RiskHigh))
				}
			}
			return seeds, nil
		},
	}
}

func ec2EncryptedVolumesControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-EC2-002",
		Title:       "EBS Encryption",
		Description: "EBS volumes must be encrypted",
		Severity:    models.SeverityHigh,
		Category:    "Encryption",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.10.1.1"},
			"GDPR":     {"Art.32"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			volumes, err := adapter.ListResources(ctx, awsprovider.KindEC2Volume)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, volume := range volumes {
				if !attrBool(volume.Attributes, "encrypted") {
					seeds = append(seeds, seed(volume, map[string]interface{}{
						"volume": attrString(volume.Attributes, "volume_id"),
					}, false, models.RiskHigh))
				}
			}
			return seeds, nil
		},
	}
}

func securityGroupControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-SG-001",
		Title:       "No Open Ports",
		Description: "Security groups must not allow ingress from 0.0.0.0/0",
		Severity:    models.SeverityCritical,
		Category:    "Network",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.1"},
			"SOC2":     {"CC6.6"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			groups, err := adapter.ListResources(ctx, awsprovider.KindSecurityGroup)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, group := range groups {
				if attrBool(group.Attributes, "open_to_world") {
					seeds = append(seeds, seed(group, map[string]interface{}{
						"group": attrString(group.Attributes, "group_id"),
					}, false, models.RiskHigh))
				}
			}
			return seeds, nil
		},
	}
}

func vpcFlowLogsControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-VPC-001",
		Title:       "VPC Flow Logs",
		Description: "VPC flow logs are required",
		Severity:    models.SeverityMedium,
		Category:    "Logging",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.12.4.1"},
			"SOC2":     {"CC7.2"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			vpcs, err := adapter.ListResources(ctx, awsprovider.KindVPC)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, vpc := range vpcs {
				if !attrBool(vpc.Attributes, "flow_logs_enabled") {
					seeds = append(seeds, seed(vpc, map[string]interface{}{
						"vpc": attrString(vpc.Attributes, "vpc_id"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}

func lambdaVPCControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AWS-LAMBDA-001",
		Title:       "Lambda in VPC",
		Description: "Lambda functions should run inside a VPC",
		Severity:    models.SeverityLow,
		Category:    "Network",
		Provider:    models.ProviderAWS,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.1"},
			"SOC2":     {"CC6.6"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			functions, err := adapter.ListResources(ctx, awsprovider.KindLambdaFunction)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, fn := range functions {
				if attrString(fn.Attributes, "vpc_id") == "" {
					seeds = append(seeds, seed(fn, map[string]interface{}{
						"func": attrString(fn.Attributes, "function"),
					}, false, models.RiskLow))
				}
			}
			return seeds, nil
		},
	}
}
