package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired          = errors.New("user: id is required")
	ErrEmailRequired       = errors.New("user: email is required")
	ErrPasswordHashMissing = errors.New("user: password hash is required")
	ErrNameRequired        = errors.New("user: name is required")
	ErrInvalidRole         = errors.New("user: invalid role")
	ErrEmailAlreadyUsed    = errors.New("user: email already used")
	ErrNotFound            = errors.New("user: not found")
)

type ID string

type Role string

const (
	// RoleRenter is granted to every account and allows hiring tools.
	RoleRenter Role = "renter"
	// RoleOwner allows listing tools for hire.
	RoleOwner Role = "owner"
)

// ReservedRoles lists roles reserved for internal usage.
var ReservedRoles = []Role{RoleRenter, RoleOwner}

type User struct {
	ID           ID
	Email        string
	Name         string
	AvatarURL    string
	PasswordHash string
	Roles        []Role
	Blocked      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

type CreateParams struct {
	ID           ID
	Email        string
	Name         string
	AvatarURL    string
	PasswordHash string
	Roles        []Role
	CreatedAt    time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, ErrPasswordHashMissing
	}
	roles := params.Roles
	if len(roles) == 0 {
		roles = []Role{RoleRenter}
	}
	for _, role := range roles {
		if !validRole(role) {
			return nil, ErrInvalidRole
		}
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	return &User{
		ID:           ID(id),
		Email:        email,
		Name:         name,
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		PasswordHash: params.PasswordHash,
		Roles:        append([]Role(nil), roles...),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func validRole(role Role) bool {
	for _, reserved := range ReservedRoles {
		if role == reserved {
			return true
		}
	}
	return false
}
