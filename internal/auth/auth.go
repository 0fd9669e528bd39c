// Package auth maps FTP credentials to the storage root and permissions a
// session is granted.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"telegate/internal/config"
)

// ErrInvalidCredentials is returned for an unknown user or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Permissions is a pyftpdlib-style flag string:
//
//	e change directory   l list        r retrieve
//	a append             d delete      f rename
//	m make directory     w store       M chmod   T set mtime
type Permissions string

func (p Permissions) has(flag byte) bool { return strings.IndexByte(string(p), flag) >= 0 }

func (p Permissions) CanChdir() bool   { return p.has('e') }
func (p Permissions) CanList() bool    { return p.has('l') }
func (p Permissions) CanRead() bool    { return p.has('r') }
func (p Permissions) CanAppend() bool  { return p.has('a') }
func (p Permissions) CanDelete() bool  { return p.has('d') }
func (p Permissions) CanRename() bool  { return p.has('f') }
func (p Permissions) CanMkdir() bool   { return p.has('m') }
func (p Permissions) CanWrite() bool   { return p.has('w') }
func (p Permissions) CanChmod() bool   { return p.has('M') }
func (p Permissions) CanChtimes() bool { return p.has('T') }

// Grant is what a successful login resolves to.
type Grant struct {
	Username string
	Root     string
	Perms    Permissions
}

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(username, password string) (Grant, error)
}

type account struct {
	grant    Grant
	password []byte
	hash     []byte
}

// Static authenticates against the users listed in configuration.
type Static struct {
	accounts map[string]account
}

// dummyHash keeps unknown-user logins as slow as real ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("telegate"), bcrypt.MinCost)

// NewStatic builds an authenticator from configured users.
func NewStatic(users []config.FTPUser) (*Static, error) {
	s := &Static{accounts: make(map[string]account, len(users))}
	for _, user := range users {
		acct := account{grant: Grant{
			Username: user.Username,
			Root:     user.RootDir,
			Perms:    Permissions(user.Permissions),
		}}
		if user.PasswordHash != "" {
			if _, err := bcrypt.Cost([]byte(user.PasswordHash)); err != nil {
				return nil, fmt.Errorf("user %s: invalid password_hash: %w", user.Username, err)
			}
			acct.hash = []byte(user.PasswordHash)
		} else {
			acct.password = []byte(user.Password)
		}
		s.accounts[user.Username] = acct
	}
	return s, nil
}

// Authenticate returns the user's grant or ErrInvalidCredentials.
func (s *Static) Authenticate(username, password string) (Grant, error) {
	acct, ok := s.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Grant{}, ErrInvalidCredentials
	}
	if acct.hash != nil {
		if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
			return Grant{}, ErrInvalidCredentials
		}
		return acct.grant, nil
	}
	if subtle.ConstantTimeCompare(acct.password, []byte(password)) != 1 {
		return Grant{}, ErrInvalidCredentials
	}
	return acct.grant, nil
}

// HashPassword produces a bcrypt hash suitable for password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
