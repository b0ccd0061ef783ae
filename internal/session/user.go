package session

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"taskpilot/cli/internal/apiclient"
)

// User is the identity record returned by the auth endpoints.
type User struct {
	ID        string         `json:"id" yaml:"id"`
	Username  string         `json:"username" yaml:"username"`
	FullName  string         `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	Email     string         `json:"email" yaml:"email"`
	CreatedAt apiclient.Time `json:"created_at" yaml:"created_at"`
}

func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Username
}

// Initials is the avatar text: first letter of up to two words of the
// display name, upper-cased.
func (u User) Initials() string {
	name := u.DisplayName()
	if name == "" {
		return "U"
	}
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		if utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	return b.String()
}

// Session pairs a credential with the identity it authenticates. Both are set
// or the session does not exist.
type Session struct {
	Token *oauth2.Token
	User  User
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}
