// Package tunnel forwards a local TCP port to the database host over SSH.
package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/anabada/biaslotto/internal/config"
	"github.com/anabada/biaslotto/internal/logger"
)

const dialTimeout = 15 * time.Second

// Tunnel is an open local port forward.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	log      *logger.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Validate reports missing tunnel settings.
func Validate(cfg config.TunnelConfig) error {
	var errs []error
	if cfg.Host == "" {
		errs = append(errs, errors.New("tunnel host is required"))
	}
	if cfg.User == "" {
		errs = append(errs, errors.New("tunnel user is required"))
	}
	if cfg.KeyBase64 == "" {
		errs = append(errs, errors.New("tunnel key is required"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid ssh port %d", cfg.Port))
	}
	if cfg.RemotePort <= 0 || cfg.RemotePort > 65535 {
		errs = append(errs, fmt.Errorf("invalid remote port %d", cfg.RemotePort))
	}
	if cfg.LocalPort < 0 || cfg.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid local port %d", cfg.LocalPort))
	}
	return errors.Join(errs...)
}

// Open connects to the SSH host and starts forwarding 127.0.0.1:LocalPort
// to RemoteHost:RemotePort as seen from that host. A LocalPort of 0 picks
// a free port; see Addr.
func Open(ctx context.Context, cfg config.TunnelConfig, log *logger.Logger) (*Tunnel, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	signer, err := parseKey(cfg.KeyBase64)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.KnownHosts, log)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalPort)))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("listen local port %d: %w", cfg.LocalPort, err)
	}

	remoteHost := cfg.RemoteHost
	if remoteHost == "" {
		remoteHost = "127.0.0.1"
	}
	t := &Tunnel{
		client:   client,
		listener: ln,
		remote:   net.JoinHostPort(remoteHost, strconv.Itoa(cfg.RemotePort)),
		log:      log,
	}
	t.wg.Add(1)
	go t.serve()

	log.Info("ssh tunnel open", "ssh", addr, "local", t.Addr(), "remote", t.remote)
	return t, nil
}

// Addr is the local listening address.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

// Close stops accepting, closes the SSH connection and waits for the
// forwarding goroutines to exit.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = errors.Join(t.listener.Close(), t.client.Close())
		t.wg.Wait()
		t.log.Info("ssh tunnel closed")
	})
	return err
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Warn("ssh tunnel dial remote", "remote", t.remote, "error", err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func parseKey(b64 string) (ssh.Signer, error) {
	pem, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return signer, nil
}

func hostKeyCallback(knownHostsFile string, log *logger.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		log.Warn("ssh tunnel: no known_hosts configured, host key is not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}
