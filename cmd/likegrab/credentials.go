package main

import (
	"errors"
	"fmt"

	"likegrab/pkg/auth"
	"likegrab/pkg/config"
)

// accountSource is the part of auth.Manager used to fill credentials
type accountSource interface {
	Retrieve(name string) (*auth.Account, error)
	RetrieveDefault() (*auth.Account, error)
}

// applyAccount fills empty credential fields from a stored profile and
// returns the profile name used. A named profile must exist; without one the
// default profile is used when there is any.
func applyAccount(creds *config.CredentialsConfig, src accountSource) (string, error) {
	if src == nil {
		if creds.Account != "" {
			return "", fmt.Errorf("credential profile %q requested but no credential store is available", creds.Account)
		}
		return "", nil
	}

	var (
		account *auth.Account
		err     error
	)
	if creds.Account != "" {
		account, err = src.Retrieve(creds.Account)
		if err != nil {
			return "", fmt.Errorf("load credential profile: %w", err)
		}
	} else {
		account, err = src.RetrieveDefault()
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("load default credentials: %w", err)
		}
	}

	fill(&creds.AuthToken, account.AuthToken)
	fill(&creds.CSRFToken, account.CSRFToken)
	fill(&creds.BearerToken, account.BearerToken)
	fill(&creds.UserAgent, account.UserAgent)
	return account.Name, nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
