package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"taskflow-api/domain"
)

type createUserRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

func listUsers(users Users, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		views, err := users.List(c.Request().Context(), actor)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, ok(views))
	}
}

func createUser(users Users, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		var req createUserRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, envelope{Message: "invalid request body"})
		}
		view, err := users.Create(c.Request().Context(), actor, domain.UserDraft{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, ok(view))
	}
}

func deleteUser(users Users, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		if err := users.Delete(c.Request().Context(), actor, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, okMessage("user deleted"))
	}
}

// BcryptHasher hashes passwords with bcrypt at the default cost.
type BcryptHasher struct{}

func (BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
