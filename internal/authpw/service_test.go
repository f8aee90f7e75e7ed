package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trailmap/api/internal/store"
)

type fakeProfileStore struct {
	byEmail   map[string]store.Profile
	byID      map[string]store.Profile
	resets    map[string]string
	usedReset map[string]bool
	verified  map[string]bool
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		byEmail:   make(map[string]store.Profile),
		byID:      make(map[string]store.Profile),
		resets:    make(map[string]string),
		usedReset: make(map[string]bool),
		verified:  make(map[string]bool),
	}
}

func (f *fakeProfileStore) GetProfileByEmail(_ context.Context, email string) (store.Profile, error) {
	p, ok := f.byEmail[email]
	if !ok {
		return store.Profile{}, errors.New("not found")
	}
	return p, nil
}

func (f *fakeProfileStore) GetProfileByID(_ context.Context, id string) (store.Profile, error) {
	p, ok := f.byID[id]
	if !ok {
		return store.Profile{}, errors.New("not found")
	}
	return p, nil
}

func (f *fakeProfileStore) CreateProfile(_ context.Context, p store.Profile) error {
	f.byEmail[p.Email] = p
	f.byID[p.ID] = p
	return nil
}

func (f *fakeProfileStore) UpdateProfileVerificationToken(_ context.Context, profileID, token string, _ time.Time) error {
	p := f.byID[profileID]
	p.VerificationToken = token
	f.byID[profileID] = p
	f.byEmail[p.Email] = p
	return nil
}

func (f *fakeProfileStore) VerifyProfileEmail(_ context.Context, token string) error {
	for id, p := range f.byID {
		if p.VerificationToken == token {
			p.IsEmailVerified = true
			f.byID[id] = p
			f.byEmail[p.Email] = p
			f.verified[id] = true
			return nil
		}
	}
	return errors.New("no match")
}

func (f *fakeProfileStore) UpdateProfilePassword(_ context.Context, profileID, hash string) error {
	p, ok := f.byID[profileID]
	if !ok {
		return errors.New("not found")
	}
	p.PasswordHash = hash
	f.byID[profileID] = p
	f.byEmail[p.Email] = p
	return nil
}

func (f *fakeProfileStore) CreatePasswordReset(_ context.Context, profileID, token string, _ time.Time) error {
	f.resets[token] = profileID
	return nil
}

func (f *fakeProfileStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if f.usedReset[token] {
		return "", errors.New("used")
	}
	id, ok := f.resets[token]
	if !ok {
		return "", errors.New("not found")
	}
	return id, nil
}

func (f *fakeProfileStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.usedReset[token] = true
	return nil
}

func TestSignUpAndVerify(t *testing.T) {
	fs := newFakeProfileStore()
	svc := NewService(fs)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "Alice@Example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if !resp.RequiresEmailVerify {
		t.Fatal("expected email verification to be required")
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected a verification token")
	}

	// Email is normalized to lowercase.
	if _, ok := fs.byEmail["alice@example.com"]; !ok {
		t.Fatal("profile not stored under lowercased email")
	}

	// Sign-in before verification reports pending verification.
	sr, err := svc.SignIn(ctx, SignInRequest{Email: "alice@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !sr.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	sr, err = svc.SignIn(ctx, SignInRequest{Email: "alice@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("SignIn after verify: %v", err)
	}
	if sr.RequiresVerify {
		t.Fatal("verification should be done")
	}
	if sr.Profile.Email != "alice@example.com" {
		t.Fatalf("unexpected profile email %q", sr.Profile.Email)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeProfileStore()
	svc := NewService(fs)
	ctx := context.Background()

	req := SignUpRequest{Email: "bob@example.com", Password: "password123", DisplayName: "Bob"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	if _, err := svc.SignUp(ctx, req); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeProfileStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "c@example.com", Password: "short", DisplayName: "C",
	})
	if err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	fs := newFakeProfileStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("correcthorse"), bcrypt.MinCost)
	fs.CreateProfile(context.Background(), store.Profile{
		ID:              "usr_1",
		Email:           "d@example.com",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	})

	svc := NewService(fs)
	_, err := svc.SignIn(context.Background(), SignInRequest{Email: "d@example.com", Password: "wrongwrong"})
	if err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeProfileStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("oldpassword"), bcrypt.MinCost)
	fs.CreateProfile(context.Background(), store.Profile{
		ID:              "usr_2",
		Email:           "e@example.com",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	})

	svc := NewService(fs)
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "e@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "e@example.com", Password: "newpassword1"}); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}

	// Token is single use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"}); err == nil {
		t.Fatal("expected used token to be rejected")
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newFakeProfileStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email should not produce a token")
	}
}
