package poller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/types"
)

// DockerSource enumerates running containers and their labels.
type DockerSource struct {
	cfg    config.DockerConfig
	client *client.Client
}

// NewDockerSource creates a source for the configured Docker endpoint.
func NewDockerSource(cfg config.DockerConfig) *DockerSource {
	return &DockerSource{cfg: cfg}
}

func (s *DockerSource) Name() string { return "docker" }

// Connect establishes the Docker client for the configured endpoint scheme
// (unix://, tcp:// with optional TLS, ssh://).
func (s *DockerSource) Connect(ctx context.Context) error {
	endpoint := s.cfg.Endpoint
	if endpoint == "" {
		endpoint = "unix:///var/run/docker.sock"
	}

	var opts []client.Opt
	switch {
	case strings.HasPrefix(endpoint, "unix://"):
		opts = append(opts,
			client.WithHost(endpoint),
			client.WithAPIVersionNegotiation(),
		)
	case strings.HasPrefix(endpoint, "tcp://"):
		httpClient, err := s.tcpHTTPClient()
		if err != nil {
			return fmt.Errorf("failed to create HTTP client: %w", err)
		}
		opts = append(opts,
			client.WithHost(endpoint),
			client.WithHTTPClient(httpClient),
			client.WithAPIVersionNegotiation(),
		)
	case strings.HasPrefix(endpoint, "ssh://"):
		httpClient, err := s.sshHTTPClient()
		if err != nil {
			return fmt.Errorf("failed to create SSH client: %w", err)
		}
		opts = append(opts,
			client.WithHTTPClient(httpClient),
			client.WithHost("http://docker"), // placeholder, connection runs over SSH
			client.WithAPIVersionNegotiation(),
		)
	default:
		return fmt.Errorf("unsupported docker endpoint scheme: %s", endpoint)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return fmt.Errorf("failed to connect to Docker: %w", err)
	}

	s.client = cli
	log.Info().Str("endpoint", endpoint).Msg("Connected to Docker")
	return nil
}

// Close closes the Docker client.
func (s *DockerSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Fetch lists running containers, applying the configured label filter.
func (s *DockerSource) Fetch(ctx context.Context) (types.Snapshot, error) {
	if s.client == nil {
		return types.Snapshot{}, fmt.Errorf("docker client not connected")
	}

	containers, err := s.client.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to list containers: %w", err)
	}

	snapshot := types.Snapshot{Mode: types.ModeDirect}
	for _, c := range containers {
		if s.cfg.FilterLabel != "" && !matchesFilter(c.Labels, s.cfg.FilterLabel) {
			continue
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		snapshot.Containers = append(snapshot.Containers, types.ContainerInput{
			ID:     c.ID,
			Name:   name,
			Labels: c.Labels,
		})
	}
	return snapshot, nil
}

// Watch streams container lifecycle events until ctx is cancelled. Only
// start/stop/die/destroy actions are forwarded.
func (s *DockerSource) Watch(ctx context.Context, out chan<- types.ContainerEvent) error {
	if s.client == nil {
		return fmt.Errorf("docker client not connected")
	}

	msgChan, errChan := s.client.Events(ctx, dockerevents.ListOptions{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("docker event error: %w", err)
			}
		case msg := <-msgChan:
			if msg.Type != "container" {
				continue
			}
			switch msg.Action {
			case "start", "stop", "die", "destroy":
			default:
				continue
			}

			event := types.ContainerEvent{
				Action:      string(msg.Action),
				ContainerID: msg.Actor.ID,
				Name:        msg.Actor.Attributes["name"],
				Timestamp:   time.Unix(msg.Time, msg.TimeNano),
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// tcpHTTPClient builds the HTTP client for tcp:// endpoints, with TLS when
// certificates are configured.
func (s *DockerSource) tcpHTTPClient() (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if s.cfg.TLS.CA != "" || s.cfg.TLS.Cert != "" {
		tlsConfig := &tls.Config{}

		if s.cfg.TLS.CA != "" {
			caCert, err := os.ReadFile(s.cfg.TLS.CA)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA cert: %w", err)
			}
			caCertPool := x509.NewCertPool()
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		}

		if s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != "" {
			cert, err := tls.LoadX509KeyPair(s.cfg.TLS.Cert, s.cfg.TLS.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to load client cert: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{Transport: transport}, nil
}

// sshHTTPClient builds an HTTP client that reaches the remote Docker socket
// through an SSH tunnel.
func (s *DockerSource) sshHTTPClient() (*http.Client, error) {
	sshURL := strings.TrimPrefix(s.cfg.Endpoint, "ssh://")
	parts := strings.Split(sshURL, "@")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid SSH URL format: %s", s.cfg.Endpoint)
	}

	user := parts[0]
	hostPort := parts[1]
	if !strings.Contains(hostPort, ":") {
		hostPort += ":22"
	}

	keyPath := s.cfg.SSH.Key
	if keyPath == "" {
		home, _ := os.UserHomeDir()
		keyPath = home + "/.ssh/id_rsa"
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}

	var signer ssh.Signer
	if s.cfg.SSH.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(s.cfg.SSH.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts verification
		Timeout:         30 * time.Second,
	}

	sshClient, err := ssh.Dial("tcp", hostPort, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return sshClient.Dial("unix", "/var/run/docker.sock")
		},
	}
	return &http.Client{Transport: transport}, nil
}

// matchesFilter checks a "key=value" label filter; empty value matches any.
func matchesFilter(labels map[string]string, filter string) bool {
	parts := strings.SplitN(filter, "=", 2)
	if len(parts) != 2 {
		return true
	}
	key, value := parts[0], parts[1]
	if v, ok := labels[key]; ok {
		return value == "" || v == value
	}
	return false
}
