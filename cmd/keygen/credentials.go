package main

import (
	"flag"
	"fmt"
	"os"

	"coursesmith/internal/config"
)

// passphraseEnv matches the variable the service reads the passphrase
// from (envconfig prefix CS + STORE_CREDENTIALS_PASSPHRASE).
const passphraseEnv = "CS_STORE_CREDENTIALS_PASSPHRASE"

func cmdEncryptCredentials(args []string) error {
	fs := flag.NewFlagSet("encrypt-credentials", flag.ExitOnError)
	out := fs.String("out", "credentials.enc", "output file path")
	apiKey := fs.String("api-key", "", "REST store API key")
	dsn := fs.String("postgres-dsn", "", "postgres connection string")
	fs.Parse(args)

	if *apiKey == "" && *dsn == "" {
		return fmt.Errorf("encrypt-credentials: at least one of -api-key or -postgres-dsn is required")
	}

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("encrypt-credentials: %s must be set", passphraseEnv)
	}

	creds := config.StoreCredentials{
		RESTAPIKey:  *apiKey,
		PostgresDSN: *dsn,
	}
	if err := config.WriteEncryptedCredentials(*out, creds, []byte(passphrase)); err != nil {
		return err
	}

	fmt.Printf("wrote encrypted credentials to %s\n", *out)
	return nil
}
