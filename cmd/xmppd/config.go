// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"mellium.im/xmppd/internal"
	"mellium.im/xmppd/jid"
)

// Transports that can connect the nodes of a cluster.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Config is the configuration of the daemon.
type Config struct {
	NodeID      string
	DomainsCSV  string
	Domains     []string
	Transport   string
	NATSURL     string
	Subject     string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	DispatchTimeout   time.Duration
	HeartbeatInterval time.Duration
	QueueSize         int
	StallTimeout      time.Duration
	OfflineUsers      int
	OfflinePerUser    int

	// ComponentsCSV lists external components as domain=secret pairs.
	ComponentsCSV string
	Components    map[string]string

	level zapcore.Level
}

// Flags binds the configuration to fs.
// Every flag falls back to an environment variable.
func (c *Config) Flags(fs *flag.FlagSet) {
	fs.StringVar(&c.NodeID, "node-id", os.Getenv("XMPPD_NODE_ID"), "identity of this node in the cluster (random if empty)")
	fs.StringVar(&c.DomainsCSV, "domains", os.Getenv("XMPPD_DOMAINS"), "comma separated list of served domains")
	fs.StringVar(&c.Transport, "transport", envOr("XMPPD_TRANSPORT", TransportMemory), "cluster transport: memory or nats")
	fs.StringVar(&c.NATSURL, "nats-url", os.Getenv("NATS_URL"), "NATS server URL")
	fs.StringVar(&c.Subject, "nats-subject", envOr("XMPPD_NATS_SUBJECT", "xmppd"), "prefix of the NATS subjects used by the cluster")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", os.Getenv("XMPPD_METRICS_ADDR"), "address of the Prometheus endpoint (disabled if empty)")
	fs.StringVar(&c.LogLevel, "log-level", envOr("XMPPD_LOG_LEVEL", "info"), "log level")
	fs.StringVar(&c.LogFormat, "log-format", envOr("XMPPD_LOG_FORMAT", "json"), "log format: json or console")
	fs.DurationVar(&c.DispatchTimeout, "dispatch-timeout", envDuration("XMPPD_DISPATCH_TIMEOUT"), "maximum time to wait for another node")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat", envDuration("XMPPD_HEARTBEAT"), "interval between two membership heartbeats")
	fs.IntVar(&c.QueueSize, "queue-size", envInt("XMPPD_QUEUE_SIZE"), "outbound stanza queue of each session")
	fs.DurationVar(&c.StallTimeout, "stall-timeout", envDuration("XMPPD_STALL_TIMEOUT"), "time a session may keep a full queue before it is closed")
	fs.IntVar(&c.OfflineUsers, "offline-users", envInt("XMPPD_OFFLINE_USERS"), "users with stored offline messages")
	fs.IntVar(&c.OfflinePerUser, "offline-per-user", envInt("XMPPD_OFFLINE_PER_USER"), "offline messages stored per user")
	fs.StringVar(&c.ComponentsCSV, "components", os.Getenv("XMPPD_COMPONENTS"), "comma separated list of domain=secret external components")
}

// Validate finalizes and validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		c.NodeID = "xmppd-" + internal.RandomID(8)
	}
	if strings.ContainsAny(c.NodeID, ".*> \t") {
		return fmt.Errorf("node-id %q contains characters not allowed in a subject", c.NodeID)
	}

	c.Domains = c.Domains[:0]
	for _, d := range splitCSV(c.DomainsCSV) {
		j, err := jid.Parse(d)
		if err != nil {
			return fmt.Errorf("domain %q: %w", d, err)
		}
		if !j.IsDomain() {
			return fmt.Errorf("domain %q is not a domain", d)
		}
		c.Domains = append(c.Domains, j.Domainpart())
	}
	if len(c.Domains) == 0 {
		c.Domains = []string{"localhost"}
	}

	switch c.Transport {
	case "":
		c.Transport = TransportMemory
	case TransportMemory, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Subject == "" {
		c.Subject = "xmppd"
	}

	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.level = level
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.DispatchTimeout < 0 || c.HeartbeatInterval < 0 || c.StallTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	if c.QueueSize < 0 || c.OfflineUsers < 0 || c.OfflinePerUser < 0 {
		return errors.New("sizes must not be negative")
	}

	c.Components = make(map[string]string)
	for _, pair := range splitCSV(c.ComponentsCSV) {
		domain, secret, ok := strings.Cut(pair, "=")
		if !ok || domain == "" || secret == "" {
			return fmt.Errorf("component %q is not of the form domain=secret", pair)
		}
		if _, err := jid.Parse(domain); err != nil {
			return fmt.Errorf("component %q: %w", domain, err)
		}
		c.Components[domain] = secret
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}

func envDuration(key string) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	return d
}
