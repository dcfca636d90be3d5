// Package common holds the configuration structs shared by the HTTP
// server, the HTTP client and the CLI.
package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for a bucketdb node.
type ServerConfig struct {
	// HTTP api settings
	Endpoint string

	// Storage settings
	DataDir string

	// Authentication
	APIKeysFile       string
	APIKeysReloadSec  int
	ReplicationSecret string

	// Replication settings
	Master            bool
	ReplicaEndpoint   string
	HealthIntervalSec int
	DrainIntervalSec  int
	BufferLimit       int

	// Logging configuration
	LogLevel string
}

// HasReplica reports whether this node forwards mutations to a replica.
func (c *ServerConfig) HasReplica() bool {
	return c.Master && c.ReplicaEndpoint != ""
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// HTTP settings
	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)

	// Authentication
	addSection("Authentication")
	addField("API Keys File", c.APIKeysFile)
	addField("Key Reload Interval", fmt.Sprintf("%d sec", c.APIKeysReloadSec))
	addField("Replication Secret", maskSecret(c.ReplicationSecret))

	// Replication
	addSection("Replication")
	addField("Master", strconv.FormatBool(c.Master))
	if c.HasReplica() {
		addField("Replica Endpoint", c.ReplicaEndpoint)
		addField("Health Interval", fmt.Sprintf("%d sec", c.HealthIntervalSec))
		addField("Drain Interval", fmt.Sprintf("%d sec", c.DrainIntervalSec))
		addField("Buffer Limit", strconv.Itoa(c.BufferLimit))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return fmt.Sprintf("(set, %d chars)", len(s))
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the parameters of an HTTP client connection to a
// bucketdb node.
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	TimeoutSecond int
	RetryCount    int
}

// Timeout returns the configured request timeout as a duration.
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutSecond <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	sb.WriteString("\nCLIENT CONFIGURATION\n")
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addField("Endpoint", c.Endpoint)
	addField("API Key", maskSecret(c.APIKey))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
