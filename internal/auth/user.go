// Package auth provides local credential accounts, cookie sessions, and the
// middleware gating protected pages.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/inknote/inknote/internal/db"
)

// Errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Argon2id parameters (OWASP second recommendation: m=19456, t=2, p=1).
// Parameters are embedded in each hash string, so changing them only
// affects newly created hashes.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// User represents a user account. It is the principal threaded through
// handlers and the author reference on notes.
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// UserService handles account management against the shared database.
type UserService struct {
	db *db.DB
}

// NewUserService creates a new user service.
func NewUserService(database *db.DB) *UserService {
	return &UserService{db: database}
}

// Register creates a new account with username/password.
// Returns ErrAccountExists if the username is already taken.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID := "user-" + uuid.New().String()
	now := time.Now().UTC()

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, username, email, passwordHash, now.Unix(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return &User{
		ID:        userID,
		Username:  username,
		Email:     email,
		CreatedAt: now,
	}, nil
}

// VerifyLogin verifies username/password credentials for an existing account.
// Returns ErrInvalidCredentials if the user doesn't exist or the password is
// wrong; the two cases are deliberately indistinguishable.
func (s *UserService) VerifyLogin(ctx context.Context, username, password string) (*User, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT user_id, username, email, password_hash, created_at FROM users WHERE username = ?`,
		strings.TrimSpace(username),
	)

	var (
		user      User
		hash      sql.NullString
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &hash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	if !hash.Valid || hash.String == "" {
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, hash.String) {
		return nil, ErrInvalidCredentials
	}

	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &user, nil
}

// GetByID looks up an account by its user id.
func (s *UserService) GetByID(ctx context.Context, userID string) (*User, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT user_id, username, email, created_at FROM users WHERE user_id = ?`,
		userID,
	)

	var (
		user      User
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &user, nil
}

// ValidatePasswordStrength checks if a password meets minimum requirements.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads, encodedSalt, encodedHash), nil
}

// VerifyPassword checks if a password matches an encoded hash.
func VerifyPassword(password, encodedHash string) bool {
	// Format: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false
	}

	saltBytes, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hashBytes, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	hashLen := len(hashBytes)
	if hashLen <= 0 || hashLen > argon2KeyLen*2 {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), saltBytes, timeCost, memory, threads, uint32(hashLen))

	return subtle.ConstantTimeCompare(hashBytes, computedHash) == 1
}
