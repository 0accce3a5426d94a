// Package identity holds the session's account credentials. The daemon
// does not run a login flow; the account file is provisioned out of band
// and read at startup.
package identity

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Account identifies the authenticated user of a session.
type Account struct {
	ID    int64  `toml:"id"`
	Name  string `toml:"name"`
	Token string `toml:"token"`
}

// Load reads the account file for a session.
func Load(path string) (*Account, error) {
	var acc Account
	if _, err := toml.DecodeFile(path, &acc); err != nil {
		return nil, fmt.Errorf("read account file: %w", err)
	}
	if acc.ID == 0 || acc.Token == "" {
		return nil, fmt.Errorf("account file %s: id and token are required", path)
	}
	return &acc, nil
}
