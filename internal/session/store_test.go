package session

import (
	"testing"

	"bistro/internal/domain"
)

func TestCredentialStore_SetAndGet(t *testing.T) {
	store := NewCredentialStore()
	if _, ok := store.Get(); ok {
		t.Fatal("expected empty store")
	}

	store.Set(domain.Credential{AccessToken: "a1", RefreshToken: "r1"})
	cred, ok := store.Get()
	if !ok {
		t.Fatal("expected credential to be present")
	}
	if cred.AccessToken != "a1" || cred.RefreshToken != "r1" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestCredentialStore_SetAccessTokenKeepsRefreshToken(t *testing.T) {
	store := NewCredentialStore()
	store.Set(domain.Credential{AccessToken: "a1", RefreshToken: "r1"})

	store.SetAccessToken("a2")
	cred, ok := store.Get()
	if !ok {
		t.Fatal("expected credential to be present")
	}
	if cred.AccessToken != "a2" {
		t.Fatalf("AccessToken = %q, want %q", cred.AccessToken, "a2")
	}
	if cred.RefreshToken != "r1" {
		t.Fatalf("RefreshToken = %q, want %q", cred.RefreshToken, "r1")
	}
}

func TestCredentialStore_SetAccessTokenOnClearedStoreIsNoop(t *testing.T) {
	store := NewCredentialStore()
	store.Set(domain.Credential{AccessToken: "a1", RefreshToken: "r1"})
	store.Clear()

	store.SetAccessToken("a2")
	if _, ok := store.Get(); ok {
		t.Fatal("cleared store must not come back via SetAccessToken")
	}
}
