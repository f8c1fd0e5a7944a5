package userService

import (
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/bulletin/board/models"
)

// TokenTTL - lifetime of issued tokens
const TokenTTL = 12 * time.Hour

// ErrWrongCredentials - unknown user or wrong password
var ErrWrongCredentials = errors.New("wrong credentials")

// dummyHash - compared against for unknown users so both failure paths cost one bcrypt comparison
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy password"), bcrypt.MinCost)

// Accounts - configured users able to log in
type Accounts struct {
	byUsername map[string]models.Account
}

// NewAccounts - indexes accounts by username. Accounts without username or hash are skipped,
// unknown roles fall back to author
func NewAccounts(accounts []models.Account) *Accounts {
	byUsername := make(map[string]models.Account, len(accounts))
	for _, account := range accounts {
		account.Username = strings.TrimSpace(account.Username)
		if account.Username == "" || account.PasswordHash == "" {
			continue
		}
		if account.Role != models.RoleAdmin {
			account.Role = models.RoleAuthor
		}
		byUsername[account.Username] = account
	}
	return &Accounts{byUsername: byUsername}
}

// Len - number of accounts
func (a *Accounts) Len() int {
	return len(a.byUsername)
}

// Authenticate - checks password of the user with the given username
// returns matched account or ErrWrongCredentials
func (a *Accounts) Authenticate(username, password string) (models.Account, error) {
	account, exists := a.byUsername[strings.TrimSpace(username)]
	if !exists {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return models.Account{}, ErrWrongCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.Account{}, ErrWrongCredentials
	}
	return account, nil
}

// GenerateToken - signed HS256 token carrying the account role
func GenerateToken(secret []byte, account models.Account) (string, error) {
	var claims models.TokenClaims

	// set required claims
	now := time.Now()
	claims.Subject = account.Username
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(TokenTTL).Unix()
	claims.Role = account.Role

	// generate and sign the token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// RoleFromToken - role claim of a validated token, anonymous when absent or unknown
func RoleFromToken(token *jwt.Token) models.UserRole {
	if token == nil || !token.Valid {
		return models.RoleAnonymous
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.RoleAnonymous
	}
	role, _ := claims["role"].(string)
	switch models.UserRole(role) {
	case models.RoleAuthor, models.RoleAdmin:
		return models.UserRole(role)
	default:
		return models.RoleAnonymous
	}
}
