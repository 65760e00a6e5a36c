// Package transfer ships merged compliance bundles to the remote server.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/miekg/dns"

	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/shell"
)

// Defaults for a transfer.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultAttempts = 3
	DNSTimeout      = 2 * time.Second
)

type dnsClient interface {
	Exchange(msg *dns.Msg, address string) (response *dns.Msg, rtt time.Duration, err error)
}

// Sender copies files to SERVER_CONFIG's host over ssh from the server VRF.
type Sender struct {
	Shell    shell.Runner
	Server   config.ServerConfig
	Key      string // private key for the server
	Attempts int
	Delay    time.Duration

	newDNSClient func(timeout time.Duration) dnsClient
}

// NewSender returns a Sender that authenticates with key.
func NewSender(runner shell.Runner, server config.ServerConfig, key string) *Sender {
	return &Sender{
		Shell:    runner,
		Server:   server,
		Key:      key,
		Attempts: DefaultAttempts,
		Delay:    2 * time.Second,
		newDNSClient: func(timeout time.Duration) dnsClient {
			return &dns.Client{Net: "udp", ReadTimeout: timeout}
		},
	}
}

// Address returns the server address, resolving a DOMAIN_NAME connection
// with an A query against the configured name server.
func (s *Sender) Address(ctx context.Context) (string, error) {
	h := s.Server.Host
	if h.Connection == "" {
		return "", errors.New("no server configured")
	}
	if h.ConnectionType != config.ConnectionDomainName {
		return h.Connection, nil
	}
	if h.DomainNameServer == "" {
		return "", errors.New("DOMAIN_NAME connection needs DOMAIN_NAME_SERVER")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(h.Connection), dns.TypeA)
	server := h.DomainNameServer
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, strconv.Itoa(53))
	}

	client := s.newDNSClient(DNSTimeout)
	resp, _, err := client.Exchange(msg, server)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s via %s: %w", h.Connection, server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("failed to resolve %s via %s: %s", h.Connection, server, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %s from %s", h.Connection, server)
}

// Command returns the bash line that streams localPath to name in the
// server's remote directory.
func (s *Sender) Command(host, localPath, name string) string {
	port := s.Server.SSHPort
	if port == 0 {
		port = 22
	}
	remote := "cat > " + shell.Quote(path.Join(s.Server.RemoteDirectory, name))
	ssh := "ssh -i " + shell.Quote(s.Key) +
		" -p " + strconv.Itoa(port) +
		" -o StrictHostKeyChecking=no " +
		shell.Quote(s.Server.User+"@"+host) + " " + shell.Quote(remote)
	if s.Server.VRF != "" {
		ssh = shell.Netns(s.Server.VRF, ssh)
	}
	return "cat " + shell.Quote(localPath) + " | " + ssh
}

// Send ships localPath as name. Each attempt is bounded by the configured
// timeout.
func (s *Sender) Send(ctx context.Context, localPath, name string) error {
	host, err := s.Address(ctx)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return err
	}
	timeout := s.Server.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}

	cmd := s.Command(host, localPath, name)
	err = retry.Do(func() error {
		res := s.Shell.Run(ctx, cmd, timeout)
		if err := res.Err(); err != nil {
			log.Printf("[WARN] Transfer of %s to %s failed: %v", name, host, err)
			return err
		}
		return nil
	},
		retry.Attempts(uint(attempts)),
		retry.Delay(s.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", name, host, err)
	}
	log.Printf("[INFO] Sent %s to %s:%s", name, host, s.Server.RemoteDirectory)
	return nil
}
