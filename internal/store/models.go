package store

import "time"

type Profile struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsGuest               bool
	GuestSessionID        string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PublicProfile is the subset of Profile safe to show to other users.
type PublicProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (p Profile) Public() PublicProfile {
	return PublicProfile{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email}
}

type Project struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

type Roadmap struct {
	ID          string
	OwnerID     string
	ProjectID   *string
	Name        string
	Description string
	Status      string
	Settings    string
	Metadata    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Milestone struct {
	ID            string
	RoadmapID     string
	Title         string
	TargetDate    *time.Time
	CompletedDate *time.Time
	Status        string
	Position      int
	Color         string
}

type Epic struct {
	ID              string
	RoadmapID       string
	Title           string
	Priority        string
	Status          string
	Position        int
	EstimatedEffort int
	ActualEffort    int
	StartDate       *time.Time
	EndDate         *time.Time
}

// Feature carries a denormalized RoadmapID copied from its parent epic at
// creation time; the two must never disagree.
type Feature struct {
	ID              string
	EpicID          string
	RoadmapID       string
	Title           string
	Status          string
	Position        int
	IsDeliverable   bool
	EstimatedEffort int
	ActualEffort    int
}

type Task struct {
	ID          string
	FeatureID   string
	Title       string
	Priority    string
	Status      string
	Position    int
	DueDate     *time.Time
	CompletedAt *time.Time
}

// MilestoneFeatureLink attaches a feature to a milestone independently of
// the feature's epic placement. Position is contiguous per milestone.
type MilestoneFeatureLink struct {
	MilestoneID string
	FeatureID   string
	Position    int
}

type InvitedEmail struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ShareGrant is the single active sharing configuration for a roadmap.
// Revocation flips IsActive rather than deleting the row.
type ShareGrant struct {
	ID            string
	RoadmapID     string
	CreatedBy     string
	InvitedEmails []InvitedEmail
	DefaultRole   string
	ShareToken    string
	ExpiresAt     *time.Time
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SharedRoadmap pairs a roadmap with the grant that exposes it to a viewer.
type SharedRoadmap struct {
	Roadmap  Roadmap
	Owner    PublicProfile
	Role     string
	SharedAt time.Time
}

// PositionUpdate is one item of a bulk reorder.
type PositionUpdate struct {
	ItemID      string `json:"itemId"`
	NewPosition int    `json:"newPosition"`
}
