package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	Service struct {
		Name    string `yaml:"name"`
		APIPort int    `yaml:"api_port"`
	} `yaml:"service"`

	Soroban struct {
		Endpoint          string `yaml:"endpoint"`
		NetworkPassphrase string `yaml:"network_passphrase"`
		ContractID        string `yaml:"contract_id"`
	} `yaml:"soroban"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`

	Indexer struct {
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		BatchLimit          uint   `yaml:"batch_limit"`
		StartLedger         uint32 `yaml:"start_ledger"`      // 0 = derive from latest
		BackfillLedgers     uint32 `yaml:"backfill_ledgers"`  // window behind latest on cold start
	} `yaml:"indexer"`

	Submitter struct {
		SignerSecret        string `yaml:"signer_secret"`
		MaxSendAttempts     int    `yaml:"max_send_attempts"`     // nonce refresh attempts
		StatusPollAttempts  int    `yaml:"status_poll_attempts"`  // getTransaction polls per send
		StatusPollMillis    int    `yaml:"status_poll_millis"`
	} `yaml:"submitter"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eas-service"
	}
	if cfg.Service.APIPort == 0 {
		cfg.Service.APIPort = 8080
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Indexer.PollIntervalSeconds == 0 {
		cfg.Indexer.PollIntervalSeconds = 5
	}
	if cfg.Indexer.BatchLimit == 0 {
		cfg.Indexer.BatchLimit = 100
	}
	if cfg.Indexer.BackfillLedgers == 0 {
		cfg.Indexer.BackfillLedgers = 500
	}
	if cfg.Submitter.MaxSendAttempts == 0 {
		cfg.Submitter.MaxSendAttempts = 3
	}
	if cfg.Submitter.StatusPollAttempts == 0 {
		cfg.Submitter.StatusPollAttempts = 30
	}
	if cfg.Submitter.StatusPollMillis == 0 {
		cfg.Submitter.StatusPollMillis = 1000
	}

	if cfg.Soroban.Endpoint == "" {
		return nil, fmt.Errorf("soroban.endpoint is required")
	}
	if cfg.Soroban.ContractID == "" {
		return nil, fmt.Errorf("soroban.contract_id is required")
	}
	if cfg.Soroban.NetworkPassphrase == "" {
		return nil, fmt.Errorf("soroban.network_passphrase is required")
	}

	return &cfg, nil
}

// PostgresConnectionString returns a connection string for PostgreSQL.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}
