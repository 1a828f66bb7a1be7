package domain

import (
	"context"
	"time"
)

// PasswordHasher is the external hashing capability the identity management
// calls into. The core never stores or compares raw passwords itself.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// UserService implements admin-only identity management over the user store.
type UserService struct {
	users  UserStore
	hasher PasswordHasher
}

// NewUserService wires identity management over the given store and hasher.
func NewUserService(users UserStore, hasher PasswordHasher) *UserService {
	return &UserService{users: users, hasher: hasher}
}

// List returns every non-deleted user without password material.
func (s *UserService) List(ctx context.Context, actor Actor) ([]UserView, error) {
	if !actor.IsAdmin() {
		return nil, &ForbiddenError{Reason: "admin access required"}
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]UserView, 0, len(users))
	for i := range users {
		if users[i].IsDeleted {
			continue
		}
		views = append(views, users[i].View())
	}
	return views, nil
}

// Create validates the draft, rejects duplicate emails among active users,
// hashes the password and persists the new user.
func (s *UserService) Create(ctx context.Context, actor Actor, draft UserDraft) (*UserView, error) {
	if !actor.IsAdmin() {
		return nil, &ForbiddenError{Reason: "admin access required"}
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.users.FindUserByEmail(ctx, draft.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewValidationError("email", "user already exists")
	}

	hash, err := s.hasher.Hash(draft.Password)
	if err != nil {
		return nil, err
	}
	u := User{
		ID:           newID(),
		Name:         draft.Name,
		Email:        draft.Email,
		PasswordHash: hash,
		Role:         draft.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.InsertUser(ctx, u); err != nil {
		return nil, err
	}
	v := u.View()
	return &v, nil
}

// Delete soft-deletes a user. Admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, actor Actor, id string) error {
	if !actor.IsAdmin() {
		return &ForbiddenError{Reason: "admin access required"}
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u == nil || u.IsDeleted {
		return &NotFoundError{Resource: "user"}
	}
	if u.ID == actor.ID {
		return NewValidationError("id", "you cannot delete yourself")
	}
	u.IsDeleted = true
	return s.users.UpdateUser(ctx, *u)
}
