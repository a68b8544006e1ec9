package config

import (
	"errors"
	"fmt"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ValidateAll 校验各子配置以及所有地址字符串
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	for _, s := range c.Transport.ListenAddrs {
		if _, err := types.ParseMultiaddr(s); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	for _, s := range c.Discovery.BootstrapPeers {
		if err := validatePeerAddr(s); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
	}
	for _, s := range c.Relay.Relays {
		if err := validatePeerAddr(s); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}
	return nil
}

// validatePeerAddr 地址必须能解析且带 /p2p/<id>
func validatePeerAddr(s string) error {
	addr, err := types.ParseMultiaddr(s)
	if err != nil {
		return err
	}
	if _, err := types.AddrInfoFromP2PAddr(addr); err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	return nil
}
