package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Database DatabaseConfig `mapstructure:"database"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ChainConfig struct {
	Name         string        `mapstructure:"name"`
	ChainID      int64         `mapstructure:"chain_id"`
	RPCEndpoint  string        `mapstructure:"rpc_endpoint"`
	StartBlock   uint64        `mapstructure:"start_block"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    uint64        `mapstructure:"batch_size"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

// ProtocolConfig carries the deployment-specific curve constants. Observed
// deployments differ in reserve ratio and decimal scales, so none of these
// are hard-coded.
type ProtocolConfig struct {
	FactoryAddress string `mapstructure:"factory_address"`
	ReserveRatio   uint64 `mapstructure:"reserve_ratio"` // ppm of max_ratio
	MaxRatio       uint64 `mapstructure:"max_ratio"`
	TokenDecimals  int    `mapstructure:"token_decimals"`
	EthDecimals    int    `mapstructure:"eth_decimals"`
}

func (p *ProtocolConfig) ReserveRatioBig() *big.Int {
	return new(big.Int).SetUint64(p.ReserveRatio)
}

func (p *ProtocolConfig) MaxRatioBig() *big.Int {
	return new(big.Int).SetUint64(p.MaxRatio)
}

type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIURL  string `mapstructure:"api_url"`
	APIKey  string `mapstructure:"api_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetEnvPrefix("INDEXER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("chain.name", "rinkeby")
	viper.SetDefault("chain.poll_interval", 5*time.Second)
	viper.SetDefault("chain.batch_size", 200)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("protocol.reserve_ratio", 333333)
	viper.SetDefault("protocol.max_ratio", 1000000)
	viper.SetDefault("protocol.token_decimals", 6)
	viper.SetDefault("protocol.eth_decimals", 18)
	viper.SetDefault("realtime.enabled", false)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
