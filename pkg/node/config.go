package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/discovery"
	"github.com/pixperk/solo/pkg/quiesce"
	"github.com/pixperk/solo/pkg/resolver"
	"github.com/pixperk/solo/pkg/server"
)

const (
	DiscoveryProcess  = "process"
	DiscoveryRegistry = "registry"
)

type Config struct {
	InstanceID uuid.UUID //generated when empty
	DataDir    string    //settings and project data live here
	Listener   server.ListenerConfig

	DiscoveryMode  string //process or registry
	PortMultiplier int
	MaxCandidates  int
	RegistryDir    string
	// overrides DiscoveryMode when set
	Directory discovery.Directory

	Dialer     client.Config
	Resolver   resolver.Config
	Quiesce    quiesce.Config
	Terminator quiesce.Terminator

	GatewayAddr string //empty disables the HTTP gateway
	Logger      hclog.Logger
}

func (c *Config) setDefaults() {
	if c.InstanceID == uuid.Nil {
		c.InstanceID = uuid.New()
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Listener.Host == "" {
		c.Listener.Host = server.DefaultHost
	}
	if c.Listener.BasePort <= 0 {
		c.Listener.BasePort = server.DefaultBasePort
	}
	if c.Listener.MaxPorts <= 0 {
		c.Listener.MaxPorts = server.DefaultMaxPorts
	}
	if c.Dialer.Host == "" {
		c.Dialer.Host = c.Listener.Host
	}
	if c.Resolver.YieldStagger == 0 {
		c.Resolver.YieldStagger = resolver.DefaultYieldStagger
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
}

func (c *Config) directory(ctx context.Context) (discovery.Directory, error) {
	if c.Directory != nil {
		return c.Directory, nil
	}

	switch c.DiscoveryMode {
	case "", DiscoveryProcess:
		return discovery.NewProcessDirectory(ctx, discovery.ProcessConfig{
			BasePort:       c.Listener.BasePort,
			PortMultiplier: c.PortMultiplier,
			MaxCandidates:  c.MaxCandidates,
			Logger:         c.Logger.Named("discovery"),
		})
	case DiscoveryRegistry:
		return discovery.NewRegistryDirectory(discovery.RegistryConfig{
			Dir:    c.RegistryDir,
			Logger: c.Logger.Named("discovery"),
		})
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", c.DiscoveryMode)
	}
}
