package cloudauth

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
)

// Scope limits access to files this app created.
const Scope = drivev3.DriveFileScope

// OAuthConfig builds the client configuration from, in order of preference,
// a downloaded client JSON file or an explicit id/secret pair.
func OAuthConfig(clientFile, clientID, clientSecret string) (*oauth2.Config, error) {
	if clientFile != "" {
		b, err := os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read client file: %w", err)
		}
		cfg, err := google.ConfigFromJSON(b, Scope)
		if err != nil {
			return nil, fmt.Errorf("parse client file: %w", err)
		}
		return cfg, nil
	}
	if clientID == "" {
		return nil, fmt.Errorf("oauth client id is not configured")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{Scope},
	}, nil
}
