package domain

import "time"

// Organization is an insurer. Every claim, document and decision belongs to one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role is an investigator's role within an organization.
type Role string

const (
	RoleInvestigator       Role = "investigator"
	RoleSeniorInvestigator Role = "senior_investigator"
	RoleAdmin              Role = "admin"
)

// User is an investigator account.
type User struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"orgId"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is a bearer token issued at login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	OrgID     string    `json:"orgId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
