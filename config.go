package courier

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ClientConfig holds the options shared by producers, consumers, and the
// admin client. Zero values are replaced by defaults in Validate.
type ClientConfig struct {
	Brokers             []string    `yaml:"brokers"`
	ClientId            string      `yaml:"client_id"`
	RequestTimeoutMs    int         `yaml:"request_timeout_ms"`
	ConnectionTimeoutMs int         `yaml:"connection_timeout_ms"`
	Retries             int         `yaml:"retries"`
	RetryBackoffMs      int         `yaml:"retry_backoff_ms"`
	MaxInFlightRequests int         `yaml:"max_in_flight_requests"`
	TLS                 *tls.Config `yaml:"-"`
}

func (c *ClientConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one bootstrap broker is required")
	}
	if c.ClientId == "" {
		c.ClientId = "courier-" + uuid.NewString()[:8]
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = 30000
	}
	if c.ConnectionTimeoutMs <= 0 {
		c.ConnectionTimeoutMs = 5000
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if c.Retries == 0 {
		c.Retries = 5
	}
	if c.RetryBackoffMs <= 0 {
		c.RetryBackoffMs = 100
	}
	if c.MaxInFlightRequests <= 0 {
		c.MaxInFlightRequests = 5
	}
	return nil
}

// Compression codec names accepted in ProducerConfig.Compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionSnappy = "snappy"
	CompressionLz4    = "lz4"
	CompressionZstd   = "zstd"
)

// ProducerConfig configures a producer instance.
type ProducerConfig struct {
	ClientConfig `yaml:",inline"`

	BatchSizeBytes int    `yaml:"batch_size_bytes"`
	LingerMs       int    `yaml:"linger_ms"`
	Compression    string `yaml:"compression"`
	// Acks: 0 none, 1 leader only, -1 all in-sync replicas.
	Acks int16 `yaml:"acks"`
	// Idempotent producers stamp batches with per-partition sequence
	// numbers so broker-side retries do not create duplicates.
	Idempotent bool `yaml:"idempotent"`
	// TransactionalId enables the transactional API. Implies Idempotent.
	TransactionalId string `yaml:"transactional_id"`
	// TransactionTimeoutMs bounds how long the coordinator waits for a
	// transaction to complete before proactively aborting it.
	TransactionTimeoutMs int `yaml:"transaction_timeout_ms"`
}

// maxInFlightIdempotent is the largest number of in-flight requests per
// connection under which the broker can still deduplicate and order retried
// batches by sequence number.
const maxInFlightIdempotent = 5

func (c *ProducerConfig) Validate() error {
	if err := c.ClientConfig.Validate(); err != nil {
		return err
	}
	if c.TransactionalId != "" {
		c.Idempotent = true
	}
	if c.Idempotent && c.MaxInFlightRequests > maxInFlightIdempotent {
		return fmt.Errorf("max_in_flight_requests must be <= %d when idempotence is enabled, got %d",
			maxInFlightIdempotent, c.MaxInFlightRequests)
	}
	if c.BatchSizeBytes <= 0 {
		c.BatchSizeBytes = 1 << 20 // 1 MiB
	}
	if c.LingerMs < 0 {
		return fmt.Errorf("linger_ms must be >= 0")
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	switch c.Compression {
	case CompressionNone, CompressionGzip, CompressionSnappy, CompressionLz4, CompressionZstd:
	default:
		return fmt.Errorf("unknown compression codec %q", c.Compression)
	}
	if c.Acks == 0 && c.Idempotent {
		c.Acks = -1 // idempotence requires acks from all ISRs
	} else if c.Acks == 0 {
		c.Acks = 1
	}
	if c.TransactionTimeoutMs <= 0 {
		c.TransactionTimeoutMs = 60000
	}
	return nil
}

// ConsumerConfig configures a consumer group member.
type ConsumerConfig struct {
	ClientConfig `yaml:",inline"`

	GroupId             string `yaml:"group_id"`
	SessionTimeoutMs    int    `yaml:"session_timeout_ms"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	RebalanceTimeoutMs  int    `yaml:"rebalance_timeout_ms"`
	// MaxBytesPerPartition caps how much data a single partition may
	// return in one fetch, so a hot partition cannot monopolize memory.
	MaxBytesPerPartition int `yaml:"max_bytes_per_partition"`
	// MaxBytes caps the whole fetch response.
	MaxBytes      int `yaml:"max_bytes"`
	MinBytes      int `yaml:"min_bytes"`
	MaxWaitTimeMs int `yaml:"max_wait_time_ms"`
	// PartitionsConsumedConcurrently bounds how many assigned partitions
	// are processed in parallel.
	PartitionsConsumedConcurrently int  `yaml:"partitions_consumed_concurrently"`
	AutoCommit                     bool `yaml:"auto_commit"`
	AutoCommitIntervalMs           int  `yaml:"auto_commit_interval_ms"`
}

func (c *ConsumerConfig) Validate() error {
	if err := c.ClientConfig.Validate(); err != nil {
		return err
	}
	if c.GroupId == "" {
		return fmt.Errorf("group_id is required")
	}
	if c.SessionTimeoutMs <= 0 {
		c.SessionTimeoutMs = 30000
	}
	if c.HeartbeatIntervalMs <= 0 {
		c.HeartbeatIntervalMs = 3000
	}
	if c.HeartbeatIntervalMs >= c.SessionTimeoutMs {
		return fmt.Errorf("heartbeat_interval_ms (%d) must be < session_timeout_ms (%d)",
			c.HeartbeatIntervalMs, c.SessionTimeoutMs)
	}
	if c.RebalanceTimeoutMs <= 0 {
		c.RebalanceTimeoutMs = 60000
	}
	if c.MaxBytesPerPartition <= 0 {
		c.MaxBytesPerPartition = 1 << 20
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxWaitTimeMs <= 0 {
		c.MaxWaitTimeMs = 500
	}
	if c.PartitionsConsumedConcurrently <= 0 {
		c.PartitionsConsumedConcurrently = 1
	}
	if c.AutoCommitIntervalMs <= 0 {
		c.AutoCommitIntervalMs = 5000
	}
	return nil
}

// LoadProducerConfig reads a yaml producer configuration from path.
func LoadProducerConfig(path string) (*ProducerConfig, error) {
	cfg := &ProducerConfig{}
	if err := loadYaml(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadConsumerConfig reads a yaml consumer configuration from path.
func LoadConsumerConfig(path string) (*ConsumerConfig, error) {
	cfg := &ConsumerConfig{}
	if err := loadYaml(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func loadYaml(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}
