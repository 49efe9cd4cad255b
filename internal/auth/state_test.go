package auth

import (
	"strings"
	"testing"
)

const testStateSecret = "state-secret-for-tests-0123456789"

func TestStateService_RoundTrip(t *testing.T) {
	svc, err := NewStateService(testStateSecret)
	if err != nil {
		t.Fatalf("NewStateService: %v", err)
	}

	state, err := svc.Issue("racetime")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Verify(state, "racetime"); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestStateService_WrongProviderRejected(t *testing.T) {
	svc, _ := NewStateService(testStateSecret)

	state, err := svc.Issue("racetime")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Verify(state, "discord"); err == nil {
		t.Error("a racetime state token must not verify for discord")
	}
}

func TestStateService_TamperedRejected(t *testing.T) {
	svc, _ := NewStateService(testStateSecret)

	state, err := svc.Issue("discord")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Flip a character in the signature segment.
	tampered := state[:len(state)-2] + "xx"
	if tampered == state {
		tampered = state[:len(state)-2] + "yy"
	}
	if err := svc.Verify(tampered, "discord"); err == nil {
		t.Error("tampered state token verified")
	}
}

func TestStateService_DifferentSecretRejected(t *testing.T) {
	issuer, _ := NewStateService(testStateSecret)
	verifier, _ := NewStateService("another-secret-entirely-987654321")

	state, err := issuer.Issue("racetime")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := verifier.Verify(state, "racetime"); err == nil {
		t.Error("state token signed with a different secret verified")
	}
}

func TestStateService_ShortSecretRejected(t *testing.T) {
	if _, err := NewStateService("too-short"); err == nil {
		t.Error("NewStateService accepted a short secret")
	}
}

func TestStateService_GarbageRejected(t *testing.T) {
	svc, _ := NewStateService(testStateSecret)
	for _, state := range []string{"", "not-a-token", strings.Repeat("a", 200)} {
		if err := svc.Verify(state, "racetime"); err == nil {
			t.Errorf("Verify(%q) accepted garbage", state)
		}
	}
}
