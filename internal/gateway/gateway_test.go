package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/partyline/internal/model"
)

func TestFilterMatches(t *testing.T) {
	rec := json.RawMessage(`{"id":"m1","party_id":"p1","attendees":3,"is_private":true,"seq":1234567,"lat":-3.7319}`)
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"string field", Where("party_id", "p1"), true},
		{"string mismatch", Where("party_id", "p2"), false},
		{"number field", Where("attendees", "3"), true},
		{"large integer", Where("seq", "1234567"), true},
		{"decimal", Where("lat", "-3.7319"), true},
		{"bool field", Where("is_private", "true"), true},
		{"missing field", Where("host_id", "u1"), false},
		{"conjunction", Where("party_id", "p1").And("id", "m1"), true},
		{"conjunction mismatch", Where("party_id", "p1").And("id", "m2"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterAndDoesNotMutate(t *testing.T) {
	base := Where("party_id", "p1")
	_ = base.And("user_id", "u1")
	if len(base.Eq) != 1 {
		t.Errorf("base filter mutated: %v", base.Eq)
	}
}

func TestRecordID(t *testing.T) {
	id, err := RecordID(json.RawMessage(`{"id":"abc","title":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if id != "abc" {
		t.Errorf("id = %q, want abc", id)
	}
	if _, err := RecordID(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed record")
	}
}

func TestChangeID(t *testing.T) {
	p := model.Party{ID: "p1"}
	if id := (Change[model.Party]{Type: Insert, New: &p}).ID(); id != "p1" {
		t.Errorf("insert id = %q, want p1", id)
	}
	if id := (Change[model.Party]{Type: Delete, Old: &p}).ID(); id != "p1" {
		t.Errorf("delete id = %q, want p1", id)
	}
	if id := (Change[model.Party]{Type: Delete}).ID(); id != "" {
		t.Errorf("empty change id = %q, want empty", id)
	}
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	user := model.User{ID: "u1", Username: "ana"}

	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{"nil session", nil, false},
		{"no user", &Session{AccessToken: signToken(t, now.Add(time.Hour))}, false},
		{"fresh token", &Session{AccessToken: signToken(t, now.Add(time.Hour)), User: user}, true},
		{"expired token", &Session{AccessToken: signToken(t, now.Add(-time.Minute)), User: user}, false},
		{"no expiry", &Session{AccessToken: signToken(t, time.Time{}), User: user}, true},
		{"garbage token", &Session{AccessToken: "not-a-jwt", User: user}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
