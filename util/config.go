package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "moa"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host               string
		HttpPort           int    `yaml:"httpPort"`
		SslDomain          string `yaml:"sslDomain"`
		Username           string `yaml:"username"`
		ApiToken           string `yaml:"apiToken"`
		ActorCacheTtlHours int    `yaml:"actorCacheTtlHours"`
		WithDelivery       bool   `yaml:"withDelivery"`
	}
}

// BaseIRI is the root IRI of the local actor; every local id hangs off it.
func (c *AppConfig) BaseIRI() string {
	return "https://" + c.Conf.SslDomain
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("MOA_HOST")
	envHttpPort := os.Getenv("MOA_HTTPPORT")
	envSslDomain := os.Getenv("MOA_SSLDOMAIN")
	envUsername := os.Getenv("MOA_USERNAME")
	envApiToken := os.Getenv("MOA_APITOKEN")
	envCacheTtl := os.Getenv("MOA_CACHE_TTL_HOURS")
	envWithDelivery := os.Getenv("MOA_WITH_DELIVERY")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			log.Printf("Warning: ignoring MOA_HTTPPORT %q: %v", envHttpPort, err)
		} else {
			c.Conf.HttpPort = v
		}
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envUsername != "" {
		c.Conf.Username = envUsername
	}

	if envApiToken != "" {
		c.Conf.ApiToken = envApiToken
	}

	if envCacheTtl != "" {
		v, err := strconv.Atoi(envCacheTtl)
		if err != nil {
			log.Printf("Warning: ignoring MOA_CACHE_TTL_HOURS %q: %v", envCacheTtl, err)
		} else {
			c.Conf.ActorCacheTtlHours = v
		}
	}

	if envWithDelivery != "" {
		c.Conf.WithDelivery = envWithDelivery == "true"
	}

	return c, nil
}
