package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyCaptureAll(t *testing.T) {
	policy, err := NewPolicy(true, nil, nil)
	require.NoError(t, err)

	assert.True(t, policy.CaptureAll())
	assert.True(t, policy.Match("/anything"))
	assert.True(t, policy.Match(""))
}

func TestPolicyExactNames(t *testing.T) {
	policy, err := NewPolicy(false, []string{"/chatter", "/tf"}, nil)
	require.NoError(t, err)

	assert.False(t, policy.CaptureAll())
	assert.True(t, policy.Match("/chatter"))
	assert.True(t, policy.Match("/tf"))
	assert.False(t, policy.Match("/chatter/extra"))
	assert.False(t, policy.Match("/rosout"))
}

func TestPolicyGlobPatterns(t *testing.T) {
	policy, err := NewPolicy(false, nil, []string{"/sensor/*"})
	require.NoError(t, err)

	assert.True(t, policy.Match("/sensor/lidar"))
	assert.True(t, policy.Match("/sensor/camera"))
	assert.False(t, policy.Match("/sensor/lidar/compensated"), "separator bounds a single segment")
	assert.False(t, policy.Match("/planning/trajectory"))
}

func TestPolicyNamesAndPatternsCombine(t *testing.T) {
	policy, err := NewPolicy(false, []string{"/tf"}, []string{"/sensor/**"})
	require.NoError(t, err)

	assert.True(t, policy.Match("/tf"))
	assert.True(t, policy.Match("/sensor/lidar/compensated"))
	assert.False(t, policy.Match("/rosout"))
}

func TestPolicyRejectsCaptureAllWithAllowList(t *testing.T) {
	_, err := NewPolicy(true, []string{"/chatter"}, nil)
	assert.Error(t, err)

	_, err = NewPolicy(true, nil, []string{"/sensor/*"})
	assert.Error(t, err)
}

func TestPolicyRejectsBadPattern(t *testing.T) {
	_, err := NewPolicy(false, nil, []string{"/sensor/["})
	assert.Error(t, err)
}
