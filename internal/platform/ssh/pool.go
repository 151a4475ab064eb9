package ssh

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/kubehop/internal/node"
)

// PoolConfig is the per-session part of Config shared by every node.
type PoolConfig struct {
	Auth        []ssh.AuthMethod
	HostKeys    *HostKeyStore
	DialTimeout time.Duration
}

// Pool caches one Client per node host.
type Pool struct {
	config PoolConfig

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool returns an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{config: cfg, clients: make(map[string]*Client)}
}

// Get returns the client for addr, creating it on first use.
func (p *Pool) Get(addr node.Address) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[addr.Key()]; ok {
		return c, nil
	}

	cfg := &Config{
		Host:        addr.SSHHost(),
		Port:        addr.Port(),
		User:        addr.User(),
		Auth:        p.config.Auth,
		DialTimeout: p.config.DialTimeout,
	}
	if p.config.HostKeys != nil {
		cfg.HostKeyCallback = p.config.HostKeys.Callback()
		cfg.HostKeyAlgorithms = p.config.HostKeys.Algorithms(addr.HostPort())
	}

	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	p.clients[addr.Key()] = c
	return c, nil
}

// Close closes every cached client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, c := range p.clients {
		errs = append(errs, c.Close())
		delete(p.clients, key)
	}
	return errors.Join(errs...)
}
