package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// Service groups the engine's secrets in the OS keychain.
	KeyringService = "leadflow"

	envAPIKey = "AIRTABLE_API_KEY"
)

// AirtableAccount is the keychain account name for one Airtable base.
func AirtableAccount(baseID string) string {
	return fmt.Sprintf("leadflow:airtable:%s", baseID)
}

// GetAirtableToken looks in the OS keychain first, then falls back to the
// AIRTABLE_API_KEY environment variable.
func GetAirtableToken(baseID string) (string, error) {
	account := AirtableAccount(baseID)
	if strings.TrimSpace(baseID) != "" {
		tok, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(tok) != "" {
			return tok, nil
		}
	}

	if tok := strings.TrimSpace(os.Getenv(envAPIKey)); tok != "" {
		return tok, nil
	}

	return "", errors.New("airtable token not found (set it in keychain or via AIRTABLE_API_KEY)")
}

func SetAirtableToken(baseID, token string) error {
	if strings.TrimSpace(baseID) == "" {
		return errors.New("airtable base id is empty")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("token is empty")
	}
	return keyring.Set(KeyringService, AirtableAccount(baseID), token)
}

func DeleteAirtableToken(baseID string) error {
	if strings.TrimSpace(baseID) == "" {
		return errors.New("airtable base id is empty")
	}
	return keyring.Delete(KeyringService, AirtableAccount(baseID))
}
