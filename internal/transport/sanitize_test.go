package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHostTarget(t *testing.T) {
	tests := []struct {
		host string
		ok   bool
	}{
		{"192.168.1.1", true},
		{"2001:db8::1", true},
		{"::1", true},
		{"vm-smoke-01.westus2.cloudapp.azure.com", true},
		{"vm-smoke-01.westus2.cloudapp.azure.com.", true},
		{"myhost", true},
		{"192.168.1.1; rm -rf /", false},
		{"host;rm -rf /", false},
		{"-oProxyCommand=sh", false},
		{"", false},
		{".", false},
		{"host..example.com", false},
		{".example.com", false},
		{"vm.-bad.example.com", false},
		{"vm-.example.com", false},
		{"[::1]", false},
		{strings.Repeat("a", 64) + ".example.com", false},
		{strings.Repeat("a.", 127) + "com", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := ValidateHostTarget(tt.host)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			}
		})
	}
}

func TestValidateSSHUser(t *testing.T) {
	tests := []struct {
		user string
		ok   bool
	}{
		{"root", true},
		{"azureuser", true},
		{"_svc", true},
		{"ci.bot-1", true},
		{strings.Repeat("u", 32), true},
		{"", false},
		{"1user", false},
		{"-oProxyCommand", false},
		{"a b", false},
		{strings.Repeat("u", 33), false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			err := ValidateSSHUser(tt.user)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			}
		})
	}
}

func TestTargetValidate_ReportsEveryProblem(t *testing.T) {
	err := Target{Host: "-oProxyCommand=sh", Port: 0, User: "a b"}.validate()
	require.ErrorIs(t, err, ErrInvalidTarget)

	msg := err.Error()
	assert.Contains(t, msg, "-oProxyCommand=sh")
	assert.Contains(t, msg, "a b")
	assert.Contains(t, msg, "port 0")

	assert.NoError(t, Target{Host: "10.0.0.4", Port: 22, User: "azureuser"}.validate())
}
