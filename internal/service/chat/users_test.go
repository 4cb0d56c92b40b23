package chat

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndLogin(t *testing.T) {
	svc := newSessionService(t)

	user, err := svc.RegisterUser(context.Background(), "alice", "pass123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID <= 0 || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash == "pass123" {
		t.Fatalf("password stored in clear")
	}

	got, err := svc.Login(context.Background(), "alice", "pass123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, got.ID)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newSessionService(t)

	if _, err := svc.RegisterUser(context.Background(), "alice", "pass123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterUser(context.Background(), "alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	svc := newSessionService(t)

	if _, err := svc.RegisterUser(context.Background(), "alice", "pass123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "pass123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
