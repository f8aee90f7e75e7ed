package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"trailmap/api/internal/auth"
	"trailmap/api/internal/authpw"
	"trailmap/api/internal/config"
	"trailmap/api/internal/email"
	"trailmap/api/internal/guest"
	"trailmap/api/internal/rbac"
	"trailmap/api/internal/search"
	"trailmap/api/internal/session"
	"trailmap/api/internal/store"
	"trailmap/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	ProfileID    string
	DisplayName  string
	Email        string
	IsGuest      bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Profile, error)
	RevokeRefreshSession(context.Context, string) error
	GetGuestBySession(context.Context, string) (store.Profile, error)
	ClearGuestSession(context.Context, string) error
	FindProjectByOwnerAndName(context.Context, string, string) (*store.Project, error)
	InsertProject(context.Context, store.Project) error
	GetRoadmap(context.Context, string) (store.Roadmap, error)
	ListRoadmapsByOwner(context.Context, string) ([]store.Roadmap, error)
	InsertRoadmap(context.Context, store.Roadmap) error
	UpdateRoadmap(context.Context, string, string, string, string) error
	UpdateRoadmapOwner(context.Context, string, string, *string) error
	DeleteRoadmap(context.Context, string) error
	InsertMilestone(context.Context, store.Milestone, *int) (store.Milestone, error)
	GetMilestone(context.Context, string) (store.Milestone, error)
	ListMilestonesByRoadmap(context.Context, string) ([]store.Milestone, error)
	UpdateMilestone(context.Context, store.Milestone) error
	DeleteMilestone(context.Context, string) error
	InsertEpic(context.Context, store.Epic, *int) (store.Epic, error)
	GetEpic(context.Context, string) (store.Epic, error)
	ListEpicsByRoadmap(context.Context, string) ([]store.Epic, error)
	UpdateEpic(context.Context, store.Epic) error
	DeleteEpic(context.Context, string) error
	InsertFeature(context.Context, store.Feature, *int) (store.Feature, error)
	GetFeature(context.Context, string) (store.Feature, error)
	ListFeaturesByEpicIDs(context.Context, []string) ([]store.Feature, error)
	UpdateFeature(context.Context, store.Feature) error
	DeleteFeature(context.Context, string) error
	InsertTask(context.Context, store.Task, *int) (store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	ListTasksByFeatureIDs(context.Context, []string) ([]store.Task, error)
	UpdateTask(context.Context, store.Task) error
	DeleteTask(context.Context, string) error
	InsertLink(context.Context, string, string) (store.MilestoneFeatureLink, error)
	DeleteLink(context.Context, string, string) error
	ListLinksByMilestoneIDs(context.Context, []string) ([]store.MilestoneFeatureLink, error)
	Reposition(context.Context, store.OrderedKind, string, int) (bool, error)
	BulkReposition(context.Context, store.OrderedKind, []store.PositionUpdate) error
	RepositionLink(context.Context, string, string, int) (bool, error)
	GetActiveShareByRoadmap(context.Context, string) (*store.ShareGrant, error)
	GetActiveShareByToken(context.Context, string) (store.ShareGrant, error)
	InsertShareGrant(context.Context, store.ShareGrant) error
	UpdateShareGrant(context.Context, store.ShareGrant) error
	DeactivateShareGrant(context.Context, string) (bool, error)
	ListSharedRoadmapsForEmail(context.Context, string) ([]store.SharedRoadmap, error)
	Ping(ctx context.Context) error
}

// guestIdentities is the slice of guest.Manager the service depends on.
type guestIdentities interface {
	GetOrCreate(ctx context.Context, sessionID string) (store.Profile, bool, error)
	LookupBySession(ctx context.Context, sessionID string) (store.Profile, error)
	Validate(p store.Profile) error
	Cleanup(ctx context.Context) (int64, error)
	ForgetSession(ctx context.Context, sessionID string)
}

// sessionCache is the optional Redis fast path for refresh tokens.
type sessionCache interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexRoadmap(r search.RoadmapRecord)
	IndexEpic(e search.EpicRecord)
	IndexFeature(f search.FeatureRecord)
	DeleteRoadmap(id string)
	DeleteEpic(id string)
	DeleteFeature(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	guests   guestIdentities
	authpw   *authpw.Service
	email    *email.Service
	search   searchIndex
	sessions sessionCache
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	guests *guest.Manager,
	authSvc *authpw.Service,
	emailSvc *email.Service,
	searchSvc *search.Service,
	sessions *session.RedisStore,
) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		guests: guests,
		authpw: authSvc,
		email:  emailSvc,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if sessions != nil {
		s.sessions = sessions
	}
	return s
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// GuestSession realizes a guest identity for a client-generated session
// id and issues tokens for it.
func (s *Service) GuestSession(ctx context.Context, sessionID string) (Session, bool, error) {
	profile, created, err := s.guests.GetOrCreate(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, guest.ErrMalformedSession):
		return Session{}, false, invalidArgument("session id is malformed")
	case errors.Is(err, guest.ErrExpired):
		return Session{}, false, expired("guest session has expired")
	case errors.Is(err, guest.ErrNotGuest):
		return Session{}, false, conflict("session is bound to a permanent account")
	default:
		return Session{}, false, err
	}
	sess, err := s.issueSession(ctx, profile)
	if err != nil {
		return Session{}, false, err
	}
	return sess, created, nil
}

// LookupGuest resolves an existing guest identity without creating one.
// Callers can distinguish a miss from an expired identity.
func (s *Service) LookupGuest(ctx context.Context, sessionID string) (store.Profile, error) {
	profile, err := s.guests.LookupBySession(ctx, sessionID)
	switch {
	case err == nil:
		return profile, nil
	case errors.Is(err, guest.ErrMalformedSession):
		return store.Profile{}, invalidArgument("session id is malformed")
	case errors.Is(err, guest.ErrNotFound):
		return store.Profile{}, notFound("guest session not found")
	case errors.Is(err, guest.ErrExpired):
		return store.Profile{}, expired("guest session has expired")
	default:
		return store.Profile{}, err
	}
}

type SignUpInput struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DisplayName    string `json:"displayName"`
	GuestSessionID string `json:"guestSessionId"`
}

// SignUp creates a permanent account. When the caller carries guest
// work, it is migrated into the new account immediately so nothing is
// lost between sign-up and first verified sign-in.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (map[string]any, error) {
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return nil, invalidArgument(err.Error())
	}

	if s.email != nil && s.email.IsConfigured() {
		verifyURL := s.cfg.ShareBaseURL + "/verify-email?token=" + resp.VerificationToken
		to := strings.ToLower(strings.TrimSpace(input.Email))
		name := input.DisplayName
		go func() {
			if err := s.email.SendVerificationEmail(to, name, verifyURL); err != nil {
				log.Printf("email: send verification to %s: %v", to, err)
			}
		}()
	}

	payload := map[string]any{
		"profileId":           resp.ProfileID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}

	if input.GuestSessionID != "" {
		report, err := s.Migrate(ctx, input.GuestSessionID, resp.ProfileID)
		if err != nil {
			return nil, err
		}
		payload["migration"] = report
	}

	return payload, nil
}

type SignInInput struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	GuestSessionID string `json:"guestSessionId"`
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, *MigrationReport, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return Session{}, nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, nil, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email address is not verified", nil)
	}

	sess, err := s.issueSession(ctx, resp.Profile)
	if err != nil {
		return Session{}, nil, err
	}

	var report *MigrationReport
	if input.GuestSessionID != "" {
		migrated, err := s.Migrate(ctx, input.GuestSessionID, resp.Profile.ID)
		if err != nil {
			return Session{}, nil, err
		}
		report = &migrated
	}

	return sess, report, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	token, err := s.authpw.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return err
	}
	if token == "" {
		// Unknown email; report nothing to the caller.
		return nil
	}
	if s.email != nil && s.email.IsConfigured() {
		resetURL := s.cfg.ShareBaseURL + "/reset-password?token=" + token
		to := strings.ToLower(strings.TrimSpace(emailAddr))
		go func() {
			if err := s.email.SendPasswordResetEmail(to, "", resetURL); err != nil {
				log.Printf("email: send password reset to %s: %v", to, err)
			}
		}()
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   profile.ID,
		Name:  profile.DisplayName,
		Guest: profile.IsGuest,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	refreshHash := auth.HashToken(refresh)
	if err := s.store.SaveRefreshSession(ctx, refreshHash, profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		if err := s.sessions.SaveRefreshSession(ctx, refreshHash, session.TokenData{
			ProfileID:   profile.ID,
			DisplayName: profile.DisplayName,
			IsGuest:     profile.IsGuest,
			CreatedAt:   now,
		}, refreshExpires); err != nil {
			log.Printf("session: cache refresh token: %v", err)
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		ProfileID:    profile.ID,
		DisplayName:  profile.DisplayName,
		Email:        profile.Email,
		IsGuest:      profile.IsGuest,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var profile store.Profile
	if s.sessions != nil {
		data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
		if err == nil {
			profile, err = s.store.GetProfileByID(ctx, data.ProfileID)
			if err != nil {
				return Session{}, err
			}
		}
	}
	if profile.ID == "" {
		var err error
		profile, err = s.store.LookupRefreshSession(ctx, tokenHash)
		if err != nil {
			return Session{}, err
		}
	}

	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	// A guest identity past its validity window is rejected even when
	// the access token itself has not expired yet.
	if claims.Guest {
		if err := s.guests.Validate(profile); err != nil {
			return Session{}, auth.ErrExpiredToken
		}
	}

	return Session{
		Token:       token,
		ProfileID:   profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		IsGuest:     profile.IsGuest,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	tokenHash := auth.HashToken(refreshToken)
	_ = s.store.RevokeRefreshSession(ctx, tokenHash)
	if s.sessions != nil {
		_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return nil
}

// CleanupGuests sweeps expired guest identities. Safe to call
// repeatedly.
func (s *Service) CleanupGuests(ctx context.Context) (int64, error) {
	return s.guests.Cleanup(ctx)
}

func (s *Service) SearchEntities(ctx context.Context, sess Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.FilterOwnerID = sess.ProfileID
	return s.search.Search(q), nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
