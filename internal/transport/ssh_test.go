package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/kidoz/vmsmoke/internal/result"
)

const testPassword = "secret"

// startTestServer runs an in-process SSH server that hands each exec
// request to handle. It returns the port it listens on.
func startTestServer(t *testing.T, handle func(command string, ch ssh.Channel)) int {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handle)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handle func(string, ssh.Channel)) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				go handle(payload.Command, ch)
			}
		}()
	}
}

func exitWith(ch ssh.Channel, output string, code uint32) {
	_, _ = io.WriteString(ch, output)
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
	_ = ch.Close()
}

func testHandler(command string, ch ssh.Channel) {
	switch command {
	case "uptime":
		exitWith(ch, " 10:00:00 up 3 days\n", 0)
	case "false":
		exitWith(ch, "", 1)
	case "sudo reboot":
		_ = ch.Close()
	case "sleep":
		_, _ = io.Copy(io.Discard, ch)
	}
}

func newTestChannel(t *testing.T, port int, password string) *SSHChannel {
	t.Helper()
	ch, err := NewSSHChannel(
		Target{Host: "127.0.0.1", Port: port, User: "azureuser"},
		Options{ConnectTimeout: 2 * time.Second, CommandTimeout: 5 * time.Second, Password: password},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewSSHChannel: %v", err)
	}
	return ch
}

func TestSSHChannel_Run(t *testing.T) {
	port := startTestServer(t, testHandler)
	ch := newTestChannel(t, port, testPassword)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res, err := ch.Run(ctx, "uptime", 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.Succeeded || *res.ExitCode != 0 {
			t.Errorf("got %+v, want exit 0 success", res)
		}
		if res.RawOutput != " 10:00:00 up 3 days\n" {
			t.Errorf("RawOutput = %q", res.RawOutput)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := ch.Run(ctx, "false", 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Succeeded || *res.ExitCode != 1 {
			t.Errorf("got %+v, want exit 1 failure", res)
		}
	})

	t.Run("session dropped", func(t *testing.T) {
		res, err := ch.Run(ctx, "sudo reboot", 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.ExitCode == nil || *res.ExitCode != DroppedExitCode {
			t.Errorf("got %+v, want exit %d", res, DroppedExitCode)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, err := ch.Run(ctx, "sleep", 200*time.Millisecond)
		if result.KindOf(err) != result.KindTimeout {
			t.Errorf("kind = %s, want timeout (err %v)", result.KindOf(err), err)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("Run took %v, want it bounded by the timeout", elapsed)
		}
	})
}

func TestSSHChannel_CancelIsAborted(t *testing.T) {
	port := startTestServer(t, testHandler)
	ch := newTestChannel(t, port, testPassword)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := ch.Run(ctx, "sleep", 5*time.Second)
	if result.KindOf(err) != result.KindAborted {
		t.Errorf("kind = %s, want aborted (err %v)", result.KindOf(err), err)
	}
}

func TestSSHChannel_AuthFailure(t *testing.T) {
	port := startTestServer(t, testHandler)
	ch := newTestChannel(t, port, "wrong")

	_, err := ch.Run(context.Background(), "uptime", 0)
	if result.KindOf(err) != result.KindAuthFailure {
		t.Errorf("kind = %s, want auth_failure (err %v)", result.KindOf(err), err)
	}
}

func TestSSHChannel_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	ch := newTestChannel(t, port, testPassword)
	_, err = ch.Run(context.Background(), "uptime", 0)
	if result.KindOf(err) != result.KindConnectionRefused {
		t.Errorf("kind = %s, want connection_refused (err %v)", result.KindOf(err), err)
	}
}

func TestNewSSHChannel_RequiresCredentials(t *testing.T) {
	_, err := NewSSHChannel(Target{Host: "127.0.0.1", Port: 22, User: "root"}, Options{}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error without credentials")
	}
}
