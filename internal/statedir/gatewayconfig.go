package statedir

import (
	"encoding/json"
	"fmt"
	"os"
)

// gatewayConfig is the configuration the gateway reads inside the container.
// The launcher generates it once and embeds the same token that lives in the
// env file.
type gatewayConfig struct {
	Gateway gatewaySection `json:"gateway"`
}

type gatewaySection struct {
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Auth      gatewayAuth      `json:"auth"`
	ControlUI gatewayControlUI `json:"controlUi"`
}

type gatewayAuth struct {
	Token string `json:"token"`
}

type gatewayControlUI struct {
	Enabled  bool   `json:"enabled"`
	BasePath string `json:"basePath"`
}

func (s *Store) writeGatewayConfig(token string, port int) error {
	cfg := gatewayConfig{
		Gateway: gatewaySection{
			Host: "0.0.0.0",
			Port: port,
			Auth: gatewayAuth{Token: token},
			ControlUI: gatewayControlUI{
				Enabled:  true,
				BasePath: "/",
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gateway config: %w", err)
	}
	return writeFileAtomic(s.gatewayConfigPath(), append(data, '\n'), 0o600)
}

// GatewayConfigToken reads back the token embedded in the generated gateway
// config, for verifying both copies agree.
func (s *Store) GatewayConfigToken() (string, error) {
	data, err := os.ReadFile(s.gatewayConfigPath())
	if err != nil {
		return "", fmt.Errorf("read gateway config: %w", err)
	}
	var cfg gatewayConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("decode gateway config: %w", err)
	}
	return cfg.Gateway.Auth.Token, nil
}
