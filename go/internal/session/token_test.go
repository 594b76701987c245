package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
)

func TestTokenRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mgr := NewTokenManager("secret", time.Hour, clock)

	token, err := mgr.Issue("guest-1", "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.GuestSessionID != "guest-1" || claims.TableSessionID != "session-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mgr := NewTokenManager("secret", time.Hour, clock)

	token, err := mgr.Issue("guest-1", "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(2 * time.Hour)
	_, err = mgr.Verify(token)
	if apperr.CodeOf(err) != apperr.CodeUnauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	clock := clockwork.NewFakeClock()
	token, err := NewTokenManager("secret-a", time.Hour, clock).Issue("guest-1", "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = NewTokenManager("secret-b", time.Hour, clock).Verify(token)
	if apperr.CodeOf(err) != apperr.CodeUnauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}
