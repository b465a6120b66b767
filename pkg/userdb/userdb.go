package userdb

import "errors"

// ErrNotFound reports a lookup for a username the directory does not hold.
var ErrNotFound = errors.New("userdb: user not found")

// User is one provisioned account.
type User struct {
	Username      string
	Password      string
	DefaultStatus byte
}

// Directory resolves provisioned accounts for login verification. The
// server only reads; provisioning happens out of band.
type Directory interface {
	GetUser(username string) (User, error)
}
