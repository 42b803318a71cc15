package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiqsync/datasync/internal/config"
	"github.com/aiqsync/datasync/pkg/middleware"
	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Issuer derives the issuer URL from the Keycloak settings. Older deployments
// put the realm path in the URL itself, so an empty realm uses the URL as is.
func Issuer(cfg config.KeycloakConfig) string {
	if cfg.Realm == "" {
		return cfg.URL
	}
	return strings.TrimRight(cfg.URL, "/") + "/realms/" + cfg.Realm
}

// NewKeycloakVerifier builds the verifier for a Keycloak realm.
func NewKeycloakVerifier(ctx context.Context, cfg config.KeycloakConfig) (*Verifier, error) {
	if cfg.URL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("keycloak url and client id are required")
	}
	return NewVerifier(ctx, Issuer(cfg), cfg.ClientID)
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
