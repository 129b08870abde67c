package auth

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of an account as far as dispute resolution
// needs it: who may be a juror, and how reliable they are.
type User struct {
	ID          string
	DisplayName string
	Role        Role
	Reputation  float64
	CreatedAt   time.Time
}
