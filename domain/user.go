package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Role enumerates the two access levels.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// User is the persisted identity record. PasswordHash never leaves the
// identity store through a projection.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsDeleted    bool      `json:"isDeleted"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserRef is the display projection of a user embedded in task responses.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Ref projects the user into its reference form.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// UserView is the admin-facing projection returned by user management.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// View projects the user for management responses.
func (u *User) View() UserView {
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// Actor identifies the authenticated caller of every core operation.
type Actor struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

const minPasswordLen = 6

// UserDraft is the input for creating a user.
type UserDraft struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// Validate normalizes the draft and reports every rejected field.
func (d *UserDraft) Validate() error {
	ve := &ValidationError{}
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	if d.Name == "" {
		ve.Add("name", "name is required")
	}
	if d.Email == "" {
		ve.Add("email", "email is required")
	} else if _, err := mail.ParseAddress(d.Email); err != nil {
		ve.Add("email", "invalid email address")
	}
	if utf8.RuneCountInString(d.Password) < minPasswordLen {
		ve.Add("password", "password must be at least 6 characters")
	}
	if d.Role == "" {
		d.Role = RoleUser
	} else if !d.Role.Valid() {
		ve.Add("role", "invalid role")
	}
	return ve.ErrOrNil()
}
