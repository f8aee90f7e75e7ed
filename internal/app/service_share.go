package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"trailmap/api/internal/rbac"
	"trailmap/api/internal/store"
	"trailmap/api/internal/util"
)

type ShareInput struct {
	DefaultRole   string               `json:"defaultRole"`
	InvitedEmails []store.InvitedEmail `json:"invitedEmails"`
	ExpiresAt     *time.Time           `json:"expiresAt"`
}

type ShareView struct {
	ID            string               `json:"id"`
	RoadmapID     string               `json:"roadmapId"`
	ShareToken    string               `json:"shareToken"`
	ShareURL      string               `json:"shareUrl"`
	DefaultRole   string               `json:"defaultRole"`
	InvitedEmails []store.InvitedEmail `json:"invitedEmails"`
	ExpiresAt     *time.Time           `json:"expiresAt"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

type SharedWithMeEntry struct {
	Roadmap  PreviewRoadmap      `json:"roadmap"`
	Owner    store.PublicProfile `json:"owner"`
	Role     string              `json:"role"`
	SharedAt time.Time           `json:"sharedAt"`
}

// UpsertShare creates or reconfigures the share grant for a roadmap. An
// existing active grant keeps its token so links already sent out stay
// valid; only role and invitee settings change.
func (s *Service) UpsertShare(ctx context.Context, sess Session, roadmapID string, input ShareInput) (ShareView, error) {
	roadmap, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	if err != nil {
		return ShareView{}, err
	}

	defaultRole := firstNonBlank(strings.ToLower(strings.TrimSpace(input.DefaultRole)), string(rbac.RoleViewer))
	if !rbac.Valid(defaultRole) {
		return ShareView{}, invalidArgument("invalid default role")
	}
	invited := make([]store.InvitedEmail, 0, len(input.InvitedEmails))
	seen := map[string]struct{}{}
	for _, inv := range input.InvitedEmails {
		addr := strings.ToLower(strings.TrimSpace(inv.Email))
		if addr == "" || !strings.Contains(addr, "@") {
			return ShareView{}, invalidArgument("invalid invited email")
		}
		role := firstNonBlank(strings.ToLower(strings.TrimSpace(inv.Role)), defaultRole)
		if !rbac.Valid(role) {
			return ShareView{}, invalidArgument("invalid role for " + addr)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		invited = append(invited, store.InvitedEmail{Email: addr, Role: role})
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return ShareView{}, invalidArgument("expiry must be in the future")
	}

	existing, err := s.store.GetActiveShareByRoadmap(ctx, roadmapID)
	if err != nil {
		return ShareView{}, err
	}

	var grant store.ShareGrant
	var previous map[string]struct{}
	if existing != nil {
		previous = map[string]struct{}{}
		for _, inv := range existing.InvitedEmails {
			previous[strings.ToLower(inv.Email)] = struct{}{}
		}
		grant = *existing
		grant.DefaultRole = defaultRole
		grant.InvitedEmails = invited
		grant.ExpiresAt = input.ExpiresAt
		if err := s.store.UpdateShareGrant(ctx, grant); err != nil {
			return ShareView{}, err
		}
	} else {
		grant = store.ShareGrant{
			ID:            util.NewID(util.PrefixShare),
			RoadmapID:     roadmapID,
			CreatedBy:     sess.ProfileID,
			InvitedEmails: invited,
			DefaultRole:   defaultRole,
			ShareToken:    util.NewToken(),
			ExpiresAt:     input.ExpiresAt,
			IsActive:      true,
		}
		if err := s.store.InsertShareGrant(ctx, grant); err != nil {
			return ShareView{}, err
		}
	}

	s.notifyInvitees(sess, roadmap, grant, previous)
	return s.shareView(grant), nil
}

// GetShare returns the active grant for a roadmap the session owns.
func (s *Service) GetShare(ctx context.Context, sess Session, roadmapID string) (ShareView, error) {
	if _, err := s.requireRoadmapOwner(ctx, sess, roadmapID); err != nil {
		return ShareView{}, err
	}
	grant, err := s.store.GetActiveShareByRoadmap(ctx, roadmapID)
	if err != nil {
		return ShareView{}, err
	}
	if grant == nil {
		return ShareView{}, notFound("roadmap is not shared")
	}
	return s.shareView(*grant), nil
}

// RevokeShare deactivates the active grant. The row stays for audit; its
// token stops resolving immediately.
func (s *Service) RevokeShare(ctx context.Context, sess Session, roadmapID string) error {
	if _, err := s.requireRoadmapOwner(ctx, sess, roadmapID); err != nil {
		return err
	}
	ok, err := s.store.DeactivateShareGrant(ctx, roadmapID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("roadmap is not shared")
	}
	return nil
}

// ResolveShare exchanges a share token for the full roadmap tree and the
// viewer's role. viewer may be nil for anonymous access, which gets the
// grant's default role.
func (s *Service) ResolveShare(ctx context.Context, token string, viewer *Session) (SharedRoadmapTree, error) {
	grant, err := s.store.GetActiveShareByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SharedRoadmapTree{}, notFound("share link not found")
		}
		return SharedRoadmapTree{}, err
	}
	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(time.Now()) {
		return SharedRoadmapTree{}, expired("share link has expired")
	}

	roadmap, err := s.store.GetRoadmap(ctx, grant.RoadmapID)
	if err != nil {
		return SharedRoadmapTree{}, err
	}
	tree, err := s.fullTree(ctx, roadmap)
	if err != nil {
		return SharedRoadmapTree{}, err
	}
	owner, err := s.store.GetProfileByID(ctx, roadmap.OwnerID)
	if err != nil {
		return SharedRoadmapTree{}, err
	}

	role := grant.DefaultRole
	if viewer != nil {
		if viewer.ProfileID == roadmap.OwnerID {
			role = string(rbac.RoleEditor)
		} else if viewer.Email != "" {
			role = grant.RoleFor(strings.ToLower(viewer.Email))
		}
	}

	return SharedRoadmapTree{
		RoadmapTree:     tree,
		Owner:           owner.Public(),
		CurrentUserRole: role,
	}, nil
}

// SharedWithMe lists roadmaps other owners have shared with the session's
// email. Guests have no email and always see an empty list.
func (s *Service) SharedWithMe(ctx context.Context, sess Session) ([]SharedWithMeEntry, error) {
	if sess.IsGuest || sess.Email == "" {
		return []SharedWithMeEntry{}, nil
	}
	shared, err := s.store.ListSharedRoadmapsForEmail(ctx, strings.ToLower(sess.Email))
	if err != nil {
		return nil, err
	}

	out := make([]SharedWithMeEntry, 0, len(shared))
	for _, sr := range shared {
		out = append(out, SharedWithMeEntry{
			Roadmap: PreviewRoadmap{
				ID:          sr.Roadmap.ID,
				Name:        sr.Roadmap.Name,
				Description: sr.Roadmap.Description,
				Status:      sr.Roadmap.Status,
				UpdatedAt:   sr.Roadmap.UpdatedAt,
				Epics:       []PreviewEpic{},
			},
			Owner:    sr.Owner,
			Role:     sr.Role,
			SharedAt: sr.SharedAt,
		})
	}
	return out, nil
}

// notifyInvitees emails invitees added in this upsert. previous is nil on
// a fresh grant, meaning everyone is new.
func (s *Service) notifyInvitees(sess Session, roadmap store.Roadmap, grant store.ShareGrant, previous map[string]struct{}) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	shareURL := s.shareURL(grant.ShareToken)
	ownerName := firstNonBlank(sess.DisplayName, "A Trailmap user")
	for _, inv := range grant.InvitedEmails {
		if previous != nil {
			if _, known := previous[inv.Email]; known {
				continue
			}
		}
		go func(inv store.InvitedEmail) {
			if err := s.email.SendInvitationEmail(inv.Email, ownerName, roadmap.Name, inv.Role, shareURL); err != nil {
				log.Printf("send invitation to %s: %v", inv.Email, err)
			}
		}(inv)
	}
}

func (s *Service) shareURL(token string) string {
	return strings.TrimRight(s.cfg.ShareBaseURL, "/") + "/shared/" + token
}

func (s *Service) shareView(g store.ShareGrant) ShareView {
	invited := g.InvitedEmails
	if invited == nil {
		invited = []store.InvitedEmail{}
	}
	return ShareView{
		ID:            g.ID,
		RoadmapID:     g.RoadmapID,
		ShareToken:    g.ShareToken,
		ShareURL:      s.shareURL(g.ShareToken),
		DefaultRole:   g.DefaultRole,
		InvitedEmails: invited,
		ExpiresAt:     g.ExpiresAt,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}
