package auth

import (
	"errors"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf configures token verification on the server.
type Conf struct {
	Secret   string        `json:"jwt_secret"`
	Issuer   string        `json:"issuer"`
	Audience string        `json:"audience"`
	Leeway   time.Duration `json:"leeway"`
}

// Validate checks the verifier settings.
func (c Conf) Validate() error {
	if len(c.Secret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 bytes")
	}
	return nil
}

// ClientConf represents the OAuth2 client credentials a watcher uses to obtain
// socket tokens.
type ClientConf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

func (c *ClientConf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
