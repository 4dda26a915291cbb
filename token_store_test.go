package identity

import (
	"context"
	"testing"
	"time"

	"github.com/kadvik/identity/internal"
)

func newTestTokenStore(t *testing.T) (*oneTimeTokenStore, *stubClock) {
	t.Helper()
	clock := newStubClock()
	return newOneTimeTokenStore(newStoreRedis(t), "tk:", clock), clock
}

func TestTokenStorePeekAndConsume(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()

	hash := internal.HashToken("token-1")
	if err := store.Save(ctx, hash, "acct-1", time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Peek resolves without burning the token.
	for i := 0; i < 2; i++ {
		accountID, err := store.Peek(ctx, hash)
		if err != nil {
			t.Fatalf("peek %d: %v", i+1, err)
		}
		if accountID != "acct-1" {
			t.Fatalf("peek = %q, want acct-1", accountID)
		}
	}

	consumed, err := store.Consume(ctx, hash)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed {
		t.Fatal("first consume must win")
	}
	if again, _ := store.Consume(ctx, hash); again {
		t.Fatal("token consumed twice")
	}
	if accountID, _ := store.Peek(ctx, hash); accountID != "" {
		t.Fatalf("consumed token still resolves to %q", accountID)
	}
}

func TestTokenStoreUnknownToken(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()

	accountID, err := store.Peek(ctx, internal.HashToken("never-saved"))
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if accountID != "" {
		t.Fatalf("unknown token resolved to %q", accountID)
	}
	if consumed, _ := store.Consume(ctx, internal.HashToken("never-saved")); consumed {
		t.Fatal("unknown token consumed")
	}
}

func TestTokenStoreFieldExpiry(t *testing.T) {
	store, clock := newTestTokenStore(t)
	ctx := context.Background()

	hash := internal.HashToken("token-1")
	if err := store.Save(ctx, hash, "acct-1", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Even if the key TTL lags, the stored expiry gates Peek.
	clock.Advance(2 * time.Minute)
	if accountID, _ := store.Peek(ctx, hash); accountID != "" {
		t.Fatalf("expired token resolved to %q", accountID)
	}
}

func TestTokenStoreKindsAreIsolated(t *testing.T) {
	rdb := newStoreRedis(t)
	clock := newStubClock()
	reset := newOneTimeTokenStore(rdb, "pr:", clock)
	verify := newOneTimeTokenStore(rdb, "ev:", clock)
	ctx := context.Background()

	hash := internal.HashToken("token-1")
	if err := reset.Save(ctx, hash, "acct-1", time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A reset token is not a verification token.
	if accountID, _ := verify.Peek(ctx, hash); accountID != "" {
		t.Fatalf("cross-kind peek resolved to %q", accountID)
	}
}
