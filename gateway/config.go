package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Port       uint16 `toml:"port"`
}

type NodeConfig struct {
	RestURL string `toml:"rest_url"`
	Rune    string `toml:"rune"`
}

type WalletConfig struct {
	MintURLs []string `toml:"mint_urls"`
}

type Config struct {
	Server ServerConfig `toml:"server"`
	Node   NodeConfig   `toml:"node"`
	Wallet WalletConfig `toml:"wallet"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1",
			Port:       3000,
		},
		Node: NodeConfig{
			RestURL: "https://127.0.0.1:3010",
		},
	}
}

// LoadConfig layers defaults, CDK_GATEWAY__ environment variables,
// <workDir>/config.toml and finally a config file named by
// CDK_GATEWAY_CONFIG, later sources overriding earlier ones.
func LoadConfig(workDir string) (Config, error) {
	config := DefaultConfig()

	if err := applyEnvOverrides(&config); err != nil {
		return Config{}, err
	}

	configPath := filepath.Join(workDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, &config); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %v", err)
		}
	}

	// unlike the workdir file, a config file named via the environment
	// must exist
	if overridePath := os.Getenv("CDK_GATEWAY_CONFIG"); overridePath != "" {
		if _, err := toml.DecodeFile(overridePath, &config); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %v", overridePath, err)
		}
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("CDK_GATEWAY__SERVER__LISTEN_ADDR"); v != "" {
		config.Server.ListenAddr = v
	}
	if v := os.Getenv("CDK_GATEWAY__SERVER__PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid CDK_GATEWAY__SERVER__PORT: %v", err)
		}
		config.Server.Port = uint16(port)
	}
	if v := os.Getenv("CDK_GATEWAY__NODE__REST_URL"); v != "" {
		config.Node.RestURL = v
	}
	if v := os.Getenv("CDK_GATEWAY__NODE__RUNE"); v != "" {
		config.Node.Rune = v
	}
	if v := os.Getenv("CDK_GATEWAY__WALLET__MINT_URLS"); v != "" {
		mints := []string{}
		for _, mint := range strings.Split(v, ",") {
			if mint = strings.TrimSpace(mint); mint != "" {
				mints = append(mints, mint)
			}
		}
		config.Wallet.MintURLs = mints
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Wallet.MintURLs) == 0 {
		return errors.New("no mint URLs configured")
	}
	if c.Node.RestURL == "" {
		return errors.New("no node rest_url configured")
	}
	return nil
}

// ListenAddress is the host:port the server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenAddr, c.Server.Port)
}
