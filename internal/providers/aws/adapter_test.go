package aws

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/avelinecloud/compliancemgr/internal/providers"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want providers.ErrorClass
	}{
		{"access denied", apiError("AccessDenied"), providers.ErrAccessDenied},
		{"unauthorized operation", apiError("UnauthorizedOperation"), providers.ErrAccessDenied},
		{"throttling", apiError("Throttling"), providers.ErrThrottled},
		{"slow down", apiError("SlowDown"), providers.ErrThrottled},
		{"service unavailable", apiError("ServiceUnavailable"), providers.ErrTransient},
		{"no such bucket", apiError("NoSuchBucket"), providers.ErrNotFound},
		{"no such entity", apiError("NoSuchEntity"), providers.ErrNotFound},
		{"unknown api error", apiError("SomethingElse"), providers.ErrPermanent},
		{"plain error", errors.New("boom"), providers.ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify("op", "res", tt.err)
			assert.Equal(t, tt.want, classified.Class)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestIsAbsentConfig(t *testing.T) {
	assert.True(t, isAbsentConfig(apiError("NoSuchPublicAccessBlockConfiguration")))
	assert.True(t, isAbsentConfig(apiError("ServerSideEncryptionConfigurationNotFoundError")))
	assert.True(t, isAbsentConfig(apiError("NoSuchEntity")))
	assert.False(t, isAbsentConfig(apiError("AccessDenied")))
	assert.False(t, isAbsentConfig(errors.New("boom")))
}

func TestResourceKindsAreStable(t *testing.T) {
	kinds := []providers.ResourceKind{
		KindIAMUser, KindIAMPasswordPolicy, KindS3Bucket, KindEC2Instance,
		KindEC2Volume, KindSecurityGroup, KindVPC, KindTrail, KindKMSKey,
		KindRDSInstance, KindLoadBalancer, KindConfigRecorder,
		KindGuardDutyDetector, KindSNSTopic, KindLambdaFunction,
	}
	seen := make(map[providers.ResourceKind]bool)
	for _, kind := range kinds {
		assert.NotEmpty(t, string(kind))
		assert.False(t, seen[kind], "duplicate kind %s", kind)
		seen[kind] = true
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]interface{}{"bucket": "b1", "flag": true}
	assert.Equal(t, "b1", paramString(params, "bucket"))
	assert.Equal(t, "", paramString(params, "missing"))
	assert.True(t, paramBool(params, "flag"))
	assert.False(t, paramBool(params, "missing"))
}
