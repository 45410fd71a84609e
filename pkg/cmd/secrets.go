package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukex/apiflow/pkg/secrets"
)

// SecretStoreTTL is how long an idle shared session keeps its secrets.
const SecretStoreTTL = 12 * time.Hour

// NewSecretStore returns a redis backed store shared by every process using sessionID when
// storeURL is a redis:// or rediss:// URL, and a process-local store otherwise.
//
//nolint:ireturn // the concrete store depends on the url scheme
func NewSecretStore(storeURL, sessionID string) (secrets.Store, error) {
	if strings.HasPrefix(storeURL, "redis://") || strings.HasPrefix(storeURL, "rediss://") {
		store, err := secrets.NewRedisStoreFromURL(storeURL, sessionID, SecretStoreTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open secret store: %w", err)
		}

		return store, nil
	}

	return secrets.NewMemoryStore(), nil
}
