package escalator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoz/vmsmoke/internal/result"
)

type fakeRunner struct {
	res     result.CommandResult
	err     error
	command string
	timeout time.Duration
}

func (f *fakeRunner) Run(_ context.Context, command string, timeout time.Duration) (result.CommandResult, error) {
	f.command = command
	f.timeout = timeout
	return f.res, f.err
}

type fakeRestarter struct {
	err      error
	instance string
}

func (f *fakeRestarter) Restart(_ context.Context, instanceID string) error {
	f.instance = instanceID
	return f.err
}

func TestCompileCriterion(t *testing.T) {
	tests := []struct {
		src    string
		exit   int
		output string
		want   bool
	}{
		{"", 0, "", true},
		{"", 1, "", false},
		{"exit_code == -1", -1, "", true},
		{"exit_code == -1", 0, "", false},
		{"exit_code in [0, -1]", -1, "", true},
		{`exit_code == 0 && output contains "load average"`, 0, "up 2 days, load average: 0.1", true},
		{`exit_code == 0 && output contains "load average"`, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			c, err := CompileCriterion(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Accept(tt.exit, tt.output))
		})
	}
}

func TestCompileCriterion_Invalid(t *testing.T) {
	_, err := CompileCriterion("exit_code +")
	assert.Error(t, err)

	_, err = CompileCriterion("exit_code + 1")
	assert.Error(t, err, "non-boolean expression must be rejected")

	_, err = CompileCriterion("(")
	assert.Error(t, err)
}

func TestShell_AppliesCriterion(t *testing.T) {
	accept, err := CompileCriterion("exit_code == -1")
	require.NoError(t, err)
	runner := &fakeRunner{res: result.Exited("sudo reboot", -1, false, "")}
	s := Shell("ssh-reboot", runner, "sudo reboot", time.Minute, accept)

	res, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "sudo reboot", runner.command)
	assert.Equal(t, time.Minute, runner.timeout)
}

func TestShell_NilCriterionKeepsVerdict(t *testing.T) {
	runner := &fakeRunner{res: result.Exited("uptime", 0, true, "")}
	res, err := Shell("ssh", runner, "uptime", time.Second, nil).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
}

func TestShell_PropagatesFault(t *testing.T) {
	runner := &fakeRunner{err: result.NewFault(result.KindConnectionRefused, "ssh", errors.New("refused"))}
	_, err := Shell("ssh", runner, "uptime", time.Second, nil).Run(context.Background())

	assert.Equal(t, result.KindConnectionRefused, result.KindOf(err))
}

func TestPlatformRestart(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := &fakeRestarter{}
		res, err := PlatformRestart("platform", r, "vm-1").Run(context.Background())

		require.NoError(t, err)
		assert.True(t, res.Succeeded)
		assert.Equal(t, "vm-1", r.instance)
		assert.NoError(t, res.Validate())
	})

	t.Run("unclassified error becomes platform_unavailable", func(t *testing.T) {
		r := &fakeRestarter{err: errors.New("503")}
		_, err := PlatformRestart("platform", r, "vm-1").Run(context.Background())

		assert.Equal(t, result.KindPlatformUnavailable, result.KindOf(err))
	})

	tests := []struct {
		name string
		err  error
		want result.ErrorKind
	}{
		{"timeout", result.NewFault(result.KindTimeout, "az", context.DeadlineExceeded), result.KindPlatformUnavailable},
		{"bare deadline", context.DeadlineExceeded, result.KindPlatformUnavailable},
		{"auth failure", result.NewFault(result.KindAuthFailure, "az", errors.New("expired")), result.KindPlatformUnavailable},
		{"configuration kept", result.NewFault(result.KindConfiguration, "az", errors.New("bad id")), result.KindConfiguration},
		{"cancellation kept", context.Canceled, result.KindAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRestarter{err: tt.err}
			_, err := PlatformRestart("platform", r, "vm-1").Run(context.Background())

			assert.Equal(t, tt.want, result.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
