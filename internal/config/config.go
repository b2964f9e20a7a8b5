// internal/config/config.go
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken      string
	DatabaseURL        string
	WalletRPCURL       string
	GithubClientID     string
	GithubClientSecret string

	// Salt feeds the one-way user id hash inside attestation payloads. It must
	// never change once the first attestation has been posted.
	Salt string

	AttestationAA string
	Site          string
	ExplorerURL   string
	WebPort       int

	PriceInBytes              int64
	AllowProofByPayment       bool
	AcceptUnconfirmedPayments bool
	FetchOrganizations        bool
	PostTimestamp             bool

	// Authors per consolidation unit; mirrors the ledger's own cap.
	MaxAuthorsPerUnit int

	Debug bool
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// .env is optional when everything comes from the environment
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	viper.SetDefault("SITE", "https://devid.org")
	viper.SetDefault("EXPLORER_URL", "https://explorer.obyte.org/#")
	viper.SetDefault("WEB_PORT", 8080)
	viper.SetDefault("PRICE_IN_BYTES", 49000)
	viper.SetDefault("ALLOW_PROOF_BY_PAYMENT", false)
	viper.SetDefault("ACCEPT_UNCONFIRMED_PAYMENTS", true)
	viper.SetDefault("FETCH_ORGANIZATIONS", true)
	viper.SetDefault("MAX_AUTHORS_PER_UNIT", 16)

	config := &Config{
		TelegramToken:             viper.GetString("TELEGRAM_TOKEN"),
		DatabaseURL:               viper.GetString("DATABASE_URL"),
		WalletRPCURL:              viper.GetString("WALLET_RPC_URL"),
		GithubClientID:            viper.GetString("GITHUB_CLIENT_ID"),
		GithubClientSecret:        viper.GetString("GITHUB_CLIENT_SECRET"),
		Salt:                      viper.GetString("SALT"),
		AttestationAA:             viper.GetString("ATTESTATION_AA"),
		Site:                      viper.GetString("SITE"),
		ExplorerURL:               viper.GetString("EXPLORER_URL"),
		WebPort:                   viper.GetInt("WEB_PORT"),
		PriceInBytes:              viper.GetInt64("PRICE_IN_BYTES"),
		AllowProofByPayment:       viper.GetBool("ALLOW_PROOF_BY_PAYMENT"),
		AcceptUnconfirmedPayments: viper.GetBool("ACCEPT_UNCONFIRMED_PAYMENTS"),
		FetchOrganizations:        viper.GetBool("FETCH_ORGANIZATIONS"),
		PostTimestamp:             viper.GetBool("POST_TIMESTAMP"),
		MaxAuthorsPerUnit:         viper.GetInt("MAX_AUTHORS_PER_UNIT"),
		Debug:                     viper.GetBool("DEBUG"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"TELEGRAM_TOKEN":       c.TelegramToken,
		"DATABASE_URL":         c.DatabaseURL,
		"WALLET_RPC_URL":       c.WalletRPCURL,
		"GITHUB_CLIENT_ID":     c.GithubClientID,
		"GITHUB_CLIENT_SECRET": c.GithubClientSecret,
		"SALT":                 c.Salt,
		"ATTESTATION_AA":       c.AttestationAA,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("missing required configuration %s", name)
		}
	}
	if c.PriceInBytes <= 0 {
		return fmt.Errorf("PRICE_IN_BYTES must be positive, got %d", c.PriceInBytes)
	}
	return nil
}
