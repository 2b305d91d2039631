package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password to fail")
	}
}

func TestDemoAuthenticator(t *testing.T) {
	a, err := NewDemoAuthenticator()
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	user, err := a.Authenticate(DemoEmail, DemoPassword)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user != DemoUser {
		t.Fatalf("user = %+v, want demo user", user)
	}

	cases := []struct{ email, password string }{
		{DemoEmail, "wrong"},
		{"other@datapivots.com", DemoPassword},
		{"DEMO@datapivots.com", DemoPassword},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := a.Authenticate(tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("authenticate(%q, %q) err = %v", tc.email, tc.password, err)
		}
	}
	if got := ErrInvalidCredentials.Error(); got != "Invalid email or password" {
		t.Fatalf("error message = %q", got)
	}

	if g := a.GoogleUser(); g.Name != GoogleName || g.ID != DemoUser.ID {
		t.Fatalf("google user = %+v", g)
	}
}
