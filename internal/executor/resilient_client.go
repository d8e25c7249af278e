package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach and authenticate against one guest.
// At least one of Password and PrivateKeyPath must be set.
type SSHConfig struct {
	Address        string
	User           string
	Password       string
	PrivateKeyPath string
	Timeout        time.Duration
}

// ResilienceConfig guards session creation. Command results are never
// retried here; that is left to PollUntil and Retry.
type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	CircuitBreakerSettings gobreaker.Settings
	CircuitBreaker         *gobreaker.CircuitBreaker
}

type ResilientSSHClient struct {
	SSHClient *ssh.Client
	ResConf   *ResilienceConfig
}

func NewResilienceConfig(defaultBackOff *backoff.ExponentialBackOff, cbs gobreaker.Settings) *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings:        defaultBackOff,
		CircuitBreakerSettings: cbs,
		CircuitBreaker:         gobreaker.NewCircuitBreaker(cbs),
	}
}

// DefaultResilienceConfig opens the breaker after five consecutive session
// failures and retries session setup for at most a minute.
func DefaultResilienceConfig(name string) *ResilienceConfig {
	return NewResilienceConfig(
		&backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			MaxElapsedTime:      time.Minute,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	)
}

// ClientConfig builds the ssh client configuration for cfg. Guests are
// freshly booted and have no known host key yet.
func ClientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		keyAuth, err := publicKeyAuth(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, keyAuth)
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh auth method configured for %s@%s", cfg.User, cfg.Address)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil },
	}, nil
}

// NewResilientClient dials remote. The dial itself is not retried: callers
// wait for the guest with PollUntil before connecting.
func NewResilientClient(ctx context.Context, remote string, config *ssh.ClientConfig, resConf *ResilienceConfig) (*ResilientSSHClient, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", remote)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", remote, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, remote, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", remote, err)
	}
	if resConf == nil {
		resConf = DefaultResilienceConfig("ssh-session-" + remote)
	}
	return &ResilientSSHClient{
		SSHClient: ssh.NewClient(c, chans, reqs),
		ResConf:   resConf,
	}, nil
}

// NewSession opens a session through the circuit breaker, retrying with
// exponential backoff. The caller is responsible for closing it.
func (c *ResilientSSHClient) NewSession(ctx context.Context) (*ssh.Session, error) {
	var sess *ssh.Session
	operation := func() error {
		res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
			return c.SSHClient.NewSession()
		})
		if err != nil {
			return err
		}
		sess = res.(*ssh.Session)
		return nil
	}
	b := backoff.WithContext(c.ResConf.BackoffSettings, ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return sess, nil
}

func (c *ResilientSSHClient) Close() error {
	return c.SSHClient.Close()
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
