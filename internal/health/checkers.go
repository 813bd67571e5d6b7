package health

import (
	"context"
	"errors"

	"github.com/loqui-ai/loqui/internal/quota"
)

// QuotaStore returns a [Checker] that probes the quota backend with a cheap
// read. For the in-memory store this always passes; for PostgreSQL it
// verifies the connection.
func QuotaStore(store quota.Store) Checker {
	return Checker{
		Name: "quota",
		Check: func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		},
	}
}

// ProviderConfigured returns a [Checker] that fails until an API key is
// available, so a misconfigured gateway shows up unready instead of failing
// on the first session start.
func ProviderConfigured(apiKey func() string) Checker {
	return Checker{
		Name: "provider",
		Check: func(context.Context) error {
			if apiKey() == "" {
				return errors.New("no provider API key configured")
			}
			return nil
		},
	}
}
