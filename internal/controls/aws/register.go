// Package aws registers the AWS compliance control set. Each control is a
// descriptor plus detection logic over the adapter's resource kinds;
// controls with safe, reversible fixes also carry remediate and rollback.
package aws

import (
	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
)

// Register adds every AWS control to the catalog.
func Register(catalog *controls.Catalog) error {
	all := []*controls.Control{
		iamMFAControl(),
		iamPasswordPolicyControl(),
		s3PublicAccessControl(),
		s3EncryptionControl(),
		s3VersioningControl(),
		s3LoggingControl(),
		cloudTrailControl(),
		ec2PublicIPControl(),
		ec2EncryptedVolumesControl(),
		securityGroupControl(),
		kmsRotationControl(),
		rdsEncryptionControl(),
		rdsPublicAccessControl(),
		rdsBackupControl(),
		vpcFlowLogsControl(),
		elbLogsControl(),
		configRecorderControl(),
		guardDutyControl(),
		snsEncryptionControl(),
		lambdaVPCControl(),
	}
	for _, c := range all {
		if err := catalog.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// seed builds one FAIL seed from a described resource.
func seed(r providers.Resource, details map[string]interface{}, canRemediate bool, risk models.Risk) models.FindingSeed {
	return models.FindingSeed{
		ResourceID:       r.ID,
		ResourceType:     resourceType(r.Kind),
		FindingDetails:   details,
		Evidence:         r.Attributes,
		CanAutoRemediate: canRemediate,
		RemediationRisk:  risk,
	}
}

func resourceType(kind providers.ResourceKind) string {
	switch kind {
	case "iam:user":
		return "IAM::User"
	case "iam:password_policy":
		return "IAM::Policy"
	case "s3:bucket":
		return "S3::Bucket"
	case "ec2:instance":
		return "EC2::Instance"
	case "ec2:volume":
		return "EC2::Volume"
	case "ec2:security_group":
		return "SecurityGroup"
	case "ec2:vpc":
		return "VPC"
	case "cloudtrail:trail":
		return "CloudTrail"
	case "kms:key":
		return "KMS::Key"
	case "rds:instance":
		return "RDS::DB"
	case "elb:load_balancer":
		return "ELB"
	case "config:recorder":
		return "Config"
	case "guardduty:detector":
		return "GuardDuty"
	case "sns:topic":
		return "SNS::Topic"
	case "lambda:function":
		return "Lambda"
	default:
		return string(kind)
	}
}

func attrBool(attrs map[string]interface{}, key string) bool {
	v, _ := attrs[key].(bool)
	return v
}

func attrString(attrs map[string]interface{}, key string) string {
	v, _ := attrs[key].(string)
	return v
}

func attrInt(attrs map[string]interface{}, key string) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
