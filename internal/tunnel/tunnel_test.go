package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/anabada/biaslotto/internal/config"
)

func newKey(t *testing.T) (ssh.Signer, string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return signer, base64.StdEncoding.EncodeToString(pem.EncodeToMemory(block))
}

// startSSHServer accepts clientKey and serves direct-tcpip channels.
func startSSHServer(t *testing.T, clientKey ssh.PublicKey) (string, ssh.Signer) {
	t.Helper()
	hostSigner, _ := newKey(t)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, k ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(k.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return ln.Addr().String(), hostSigner
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &target); err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		dst, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer dst.Close()
			go io.Copy(dst, ch)
			io.Copy(ch, dst)
		}()
	}
}

func startEcho(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func tunnelConfig(t *testing.T, sshAddr, key string, remotePort int) config.TunnelConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(sshAddr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.TunnelConfig{
		Enabled:    true,
		Host:       host,
		Port:       p,
		User:       "crawler",
		KeyBase64:  key,
		RemoteHost: "127.0.0.1",
		RemotePort: remotePort,
	}
}

func TestForwardsTraffic(t *testing.T) {
	clientSigner, clientKey := newKey(t)
	sshAddr, hostSigner := startSSHServer(t, clientSigner.PublicKey())
	echoPort := startEcho(t)

	cfg := tunnelConfig(t, sshAddr, clientKey, echoPort)
	cfg.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(sshAddr)}, hostSigner.PublicKey())
	require.NoError(t, os.WriteFile(cfg.KnownHosts, []byte(line+"\n"), 0o600))

	tun, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer tun.Close()

	conn, err := net.Dial("tcp", tun.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", reply)

	require.NoError(t, tun.Close())
	assert.NoError(t, tun.Close())
}

func TestRejectsUnknownHostKey(t *testing.T) {
	clientSigner, clientKey := newKey(t)
	sshAddr, _ := startSSHServer(t, clientSigner.PublicKey())
	other, _ := newKey(t)

	cfg := tunnelConfig(t, sshAddr, clientKey, 5432)
	cfg.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(sshAddr)}, other.PublicKey())
	require.NoError(t, os.WriteFile(cfg.KnownHosts, []byte(line+"\n"), 0o600))

	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestRejectsUnauthorizedKey(t *testing.T) {
	clientSigner, _ := newKey(t)
	sshAddr, _ := startSSHServer(t, clientSigner.PublicKey())
	_, strangerKey := newKey(t)

	_, err := Open(context.Background(), tunnelConfig(t, sshAddr, strangerKey, 5432), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	err := Validate(config.TunnelConfig{Port: 22})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
	assert.Contains(t, err.Error(), "user is required")
	assert.Contains(t, err.Error(), "key is required")
	assert.Contains(t, err.Error(), "invalid remote port 0")

	assert.NoError(t, Validate(config.TunnelConfig{
		Host: "db.example.org", Port: 22, User: "u", KeyBase64: "eA==", RemotePort: 5432,
	}))
}

func TestBadKeyEncoding(t *testing.T) {
	_, err := parseKey("%%%")
	require.Error(t, err)

	_, err = parseKey(base64.StdEncoding.EncodeToString([]byte("not a key")))
	require.Error(t, err)
}
