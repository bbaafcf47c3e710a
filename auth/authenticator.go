// Package auth provides username/password authentication and role
// checks for the HTTP API, backed by a YAML user file with bcrypt
// password hashes.
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

const (
	// RoleReader allows read-only operations (get, ttl).
	RoleReader = "reader"
	// RoleWriter allows every operation.
	RoleWriter = "writer"
)

// ErrUnauthenticated is returned for unknown users and bad passwords;
// the two cases are deliberately indistinguishable to callers.
var ErrUnauthenticated = errors.New("invalid username or password")

// User is an authenticated API user.
type User struct {
	Username string
	Role     string
}

// Authenticator validates credentials against the loaded user file.
type Authenticator struct {
	usersByUsername map[string]UserRecord
	logger          *slog.Logger
}

// NewAuthenticator loads the user file at path.
func NewAuthenticator(userFilePath string, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	records, err := ReadUserFile(userFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not load user database: %w", err)
	}
	userMap := make(map[string]UserRecord, len(records))
	for _, u := range records {
		userMap[u.Username] = u
	}
	return &Authenticator{
		usersByUsername: userMap,
		logger:          logger.With("component", "Authenticator"),
	}, nil
}

// Authenticate verifies a username/password pair and returns the user.
func (a *Authenticator) Authenticate(username, password string) (User, error) {
	record, ok := a.usersByUsername[username]
	if !ok {
		a.logger.Warn("Authentication failed: invalid username.", "username", username)
		return User{}, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		a.logger.Warn("Authentication failed: invalid password.", "username", username)
		return User{}, ErrUnauthenticated
	}
	return User{Username: record.Username, Role: record.Role}, nil
}

// Authorize reports whether the user's role covers the required role.
// Writers may do everything; readers only read.
func Authorize(user User, required string) bool {
	switch required {
	case RoleReader:
		return user.Role == RoleReader || user.Role == RoleWriter
	case RoleWriter:
		return user.Role == RoleWriter
	default:
		return false
	}
}
