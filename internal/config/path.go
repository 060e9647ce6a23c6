package config

import (
	"os"
)

var candidates = []string{
	"./roomcast.yaml",
	"./roomcast.yml",
	"./config.yaml",
	"./config.yml",
	"/etc/roomcast/config.yaml",
}

// DetermineConfigPath picks the config file: the explicit flag value, then
// ROOMCAST_CONFIG, then the first existing candidate. It returns "" when
// nothing is found.
func DetermineConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
