package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/knowara/ai-gateway/internal/auth"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

// SeedTestAPIKey creates a dev tenant and API key. Safe to run repeatedly;
// existing rows are left alone.
func SeedTestAPIKey(ctx context.Context, store auth.Store, db auth.DB) {
	_, err := db.Exec(ctx, `
		INSERT INTO tenants (id, tier, monthly_limit_cents, daily_limit_cents)
		VALUES ($1, 'free', 0, 0)
		ON CONFLICT (id) DO NOTHING
	`, TestTenantID)
	if err != nil {
		log.Printf("[Seeder] failed to seed tenant: %v", err)
		return
	}

	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  keyHash,
		Active:   true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] TenantID: %s", TestTenantID)
}
