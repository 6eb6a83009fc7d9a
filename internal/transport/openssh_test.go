package transport

import (
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/result"
)

func TestOpenSSHChannel_Args(t *testing.T) {
	ch, err := NewOpenSSHChannel(
		Target{Host: "10.0.0.4", Port: 2222, User: "azureuser"},
		Options{ConnectTimeout: 5 * time.Second, PrivateKeyPath: "/keys/id_ed25519", KnownHostsPath: "/keys/known_hosts"},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewOpenSSHChannel: %v", err)
	}

	args := ch.args("uptime")
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"BatchMode=yes",
		"ConnectTimeout=5",
		"-p 2222",
		"-i /keys/id_ed25519",
		"UserKnownHostsFile=/keys/known_hosts",
		"StrictHostKeyChecking=yes",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if got := args[len(args)-2:]; !slices.Equal(got, []string{"azureuser@10.0.0.4", "uptime"}) {
		t.Errorf("trailing args = %v", got)
	}
	if ch.opts.SSHPath != "ssh" {
		t.Errorf("SSHPath = %q, want default ssh", ch.opts.SSHPath)
	}
}

func TestNewOpenSSHChannel_RejectsInjection(t *testing.T) {
	_, err := NewOpenSSHChannel(Target{Host: "-oProxyCommand=sh", Port: 22, User: "root"}, Options{}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for option-injection host")
	}
}

func exitErr(t *testing.T, script string) error {
	t.Helper()
	err := exec.Command("sh", "-c", script).Run()
	if err == nil {
		t.Fatalf("script %q should fail", script)
	}
	return err
}

func TestInterpretExit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		res, err := interpretExit("ssh h:22", "uptime", nil, "up 3 days\n", "")
		if err != nil || !res.Succeeded || *res.ExitCode != 0 {
			t.Errorf("got %+v, %v", res, err)
		}
		if res.RawOutput != "up 3 days\n" {
			t.Errorf("RawOutput = %q", res.RawOutput)
		}
	})

	t.Run("remote non-zero exit", func(t *testing.T) {
		res, err := interpretExit("ssh h:22", "false", exitErr(t, "exit 3"), "", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Succeeded || *res.ExitCode != 3 {
			t.Errorf("got %+v, want exit 3 failure", res)
		}
	})

	t.Run("auth failure", func(t *testing.T) {
		_, err := interpretExit("ssh h:22", "uptime", exitErr(t, "exit 255"), "", "Permission denied (publickey).")
		if result.KindOf(err) != result.KindAuthFailure {
			t.Errorf("kind = %s, want auth_failure", result.KindOf(err))
		}
	})

	t.Run("dropped by reboot", func(t *testing.T) {
		res, err := interpretExit("ssh h:22", "sudo reboot", exitErr(t, "exit 255"), "", "Connection to h closed by remote host.")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.ExitCode == nil || *res.ExitCode != DroppedExitCode {
			t.Errorf("got %+v, want exit %d", res, DroppedExitCode)
		}
	})

	t.Run("client missing", func(t *testing.T) {
		_, err := interpretExit("ssh h:22", "uptime", exec.ErrNotFound, "", "")
		if result.KindOf(err) != result.KindConfiguration {
			t.Errorf("kind = %s, want configuration_error", result.KindOf(err))
		}
	})
}
