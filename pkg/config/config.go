// Package config loads replica, cluster manifest, and client configuration
// from TOML files. Timings are stored as integer seconds in the files and
// exposed as time.Duration accessors.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Replica holds the per-replica configuration.
type Replica struct {
	ServerID         int      `toml:"server_id"`
	ServerHost       string   `toml:"server_host"`
	ServerPort       int      `toml:"server_port"`
	InitialLeader    bool     `toml:"initial_leader"`
	Join             bool     `toml:"join"`
	ReplicaAddresses []string `toml:"replica_addresses"`

	HeartbeatIntervalSec int `toml:"heartbeat_interval"`
	LeaseTimeoutSec      int `toml:"lease_timeout"`

	DBFile string `toml:"db_file"`
}

// LoadReplica reads a replica configuration file and applies defaults.
func LoadReplica(path string) (*Replica, error) {
	cfg := &Replica{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in unset fields. The db file defaults to
// chat_<server_id>.db next to the process.
func (c *Replica) ApplyDefaults() {
	if c.ServerHost == "" {
		c.ServerHost = "localhost"
	}
	if c.ServerPort == 0 {
		c.ServerPort = 50051
	}
	if c.HeartbeatIntervalSec == 0 {
		c.HeartbeatIntervalSec = 3
	}
	if c.LeaseTimeoutSec == 0 {
		c.LeaseTimeoutSec = 10
	}
	if c.DBFile == "" {
		c.DBFile = fmt.Sprintf("chat_%d.db", c.ServerID)
	}
}

// Validate checks the timing relationship between the heartbeat interval and
// the lease. The lease must outlive at least one missed heartbeat.
func (c *Replica) Validate() error {
	if c.ServerID <= 0 {
		return fmt.Errorf("server_id must be a positive integer, got %d", c.ServerID)
	}
	if c.LeaseTimeoutSec <= c.HeartbeatIntervalSec {
		return fmt.Errorf("lease_timeout (%ds) must exceed heartbeat_interval (%ds)",
			c.LeaseTimeoutSec, c.HeartbeatIntervalSec)
	}
	return nil
}

// Address returns the host:port this replica binds and advertises.
func (c *Replica) Address() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

func (c *Replica) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

func (c *Replica) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutSec) * time.Second
}

// Instance describes one configured server in the cluster manifest.
type Instance struct {
	ServerID      int    `toml:"server_id"`
	ServerHost    string `toml:"server_host"`
	ServerPort    int    `toml:"server_port"`
	InitialLeader bool   `toml:"initial_leader"`
}

// Address returns the host:port of the instance.
func (i Instance) Address() string {
	return fmt.Sprintf("%s:%d", i.ServerHost, i.ServerPort)
}

// Manifest lists every initially configured instance. Joining replicas
// consult it to locate the current leader.
type Manifest struct {
	Instances        []Instance `toml:"instances"`
	ReplicaAddresses []string   `toml:"replica_addresses"`

	HeartbeatIntervalSec int    `toml:"heartbeat_interval"`
	LeaseTimeoutSec      int    `toml:"lease_timeout"`
	DBFile               string `toml:"db_file"`
}

// LoadManifest reads the cluster manifest file.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	if _, err := toml.DecodeFile(path, m); err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	return m, nil
}

// CandidateAddresses returns the addresses of all configured instances, in
// manifest order.
func (m *Manifest) CandidateAddresses() []string {
	addrs := make([]string, 0, len(m.Instances))
	for _, inst := range m.Instances {
		addrs = append(addrs, inst.Address())
	}
	return addrs
}

// Client holds the client runtime configuration.
type Client struct {
	ConnectHost      string   `toml:"client_connect_host"`
	ConnectPort      int      `toml:"client_connect_port"`
	ReplicaAddresses []string `toml:"replica_addresses"`

	RPCTimeoutSec                 int `toml:"rpc_timeout"`
	FallbackTimeoutSec            int `toml:"fallback_timeout"`
	OverallLeaderLookupTimeoutSec int `toml:"overall_leader_lookup_timeout"`
	RetryDelaySec                 int `toml:"retry_delay"`
	HeartbeatIntervalSec          int `toml:"client_heartbeat_interval"`
}

// LoadClient reads a client configuration file and applies defaults.
func LoadClient(path string) (*Client, error) {
	cfg := &Client{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in unset fields with the documented defaults.
func (c *Client) ApplyDefaults() {
	if c.ConnectHost == "" || c.ConnectHost == "localhost" {
		// Force IPv4 so a dual-stack resolver cannot route the initial
		// connection somewhere the replicas do not listen.
		c.ConnectHost = "127.0.0.1"
	}
	if c.ConnectPort == 0 {
		c.ConnectPort = 50051
	}
	if c.RPCTimeoutSec == 0 {
		c.RPCTimeoutSec = 3
	}
	if c.FallbackTimeoutSec == 0 {
		c.FallbackTimeoutSec = 2
	}
	if c.OverallLeaderLookupTimeoutSec == 0 {
		c.OverallLeaderLookupTimeoutSec = 5
	}
	if c.RetryDelaySec == 0 {
		c.RetryDelaySec = 1
	}
	if c.HeartbeatIntervalSec == 0 {
		c.HeartbeatIntervalSec = 5
	}
}

// ConnectAddress returns the initial leader guess.
func (c *Client) ConnectAddress() string {
	return fmt.Sprintf("%s:%d", c.ConnectHost, c.ConnectPort)
}

func (c *Client) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

func (c *Client) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutSec) * time.Second
}

func (c *Client) OverallLeaderLookupTimeout() time.Duration {
	return time.Duration(c.OverallLeaderLookupTimeoutSec) * time.Second
}

func (c *Client) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

func (c *Client) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}
