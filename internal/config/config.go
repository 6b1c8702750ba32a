package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMinAmountWei is the smallest stake/burn amount that still counts as
// a completed task: 0.0001 of the token in base units.
const DefaultMinAmountWei = "100000000000000"

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

// Time accepts RFC3339 strings or integer unix seconds.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("time must be a scalar")
	}
	if value.Value == "" {
		t.Time = time.Time{}
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		t.Time = time.Unix(v, 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value.Value)
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", value.Value, err)
	}
	t.Time = parsed.UTC()
	return nil
}

type Config struct {
	RPC struct {
		HTTP string `yaml:"http"`
	} `yaml:"rpc"`

	Contracts struct {
		StakePlanHub string `yaml:"stake_plan_hub"`
		Bridge       string `yaml:"bridge"`
	} `yaml:"contracts"`

	Window struct {
		Start Time `yaml:"start"`
		End   Time `yaml:"end"`
	} `yaml:"window"`

	Scan struct {
		ChunkSize      uint64   `yaml:"chunk_size"`
		PollInterval   Duration `yaml:"poll_interval"`
		MinAmountWei   string   `yaml:"min_amount_wei"`
		RequestTimeout Duration `yaml:"request_timeout"`
	} `yaml:"scan"`

	Store struct {
		DSN string `yaml:"dsn"`
	} `yaml:"store"`

	Checkpoint struct {
		Path string `yaml:"path"`
	} `yaml:"checkpoint"`

	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scan.ChunkSize == 0 {
		c.Scan.ChunkSize = 500
	}
	if c.Scan.PollInterval.Duration == 0 {
		c.Scan.PollInterval = Duration{Duration: 5 * time.Second}
	}
	if c.Scan.MinAmountWei == "" {
		c.Scan.MinAmountWei = DefaultMinAmountWei
	}
	if c.Scan.RequestTimeout.Duration == 0 {
		c.Scan.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "data/checkpoint.json"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.RPC.HTTP == "" {
		return fmt.Errorf("rpc.http is required")
	}
	if c.Contracts.StakePlanHub == "" {
		return fmt.Errorf("contracts.stake_plan_hub is required")
	}
	if c.Contracts.Bridge == "" {
		return fmt.Errorf("contracts.bridge is required")
	}
	if c.Window.Start.IsZero() {
		return fmt.Errorf("window.start is required")
	}
	if c.Window.End.IsZero() {
		return fmt.Errorf("window.end is required")
	}
	if !c.Window.End.After(c.Window.Start.Time) {
		return fmt.Errorf("window.end must be after window.start")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if _, ok := new(big.Int).SetString(c.Scan.MinAmountWei, 10); !ok {
		return fmt.Errorf("invalid scan.min_amount_wei %q", c.Scan.MinAmountWei)
	}
	return nil
}

// MinAmount returns the task amount threshold in base units.
func (c *Config) MinAmount() *big.Int {
	v, _ := new(big.Int).SetString(c.Scan.MinAmountWei, 10)
	return v
}
