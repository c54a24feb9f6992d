package auth

import (
	"context"

	"github.com/DrewBradfordXYZ/observable-go/core"
)

// StaticProvider returns preconfigured credentials.
//
// Empty credentials are passed through as-is: GitHub rejects them and the
// login phase runs out of attempts. A non-interactive flow has no way to
// obtain one-time codes, so TwoFactorToken and DeviceVerificationCode
// always fail with core.ErrCapabilityUnsupported.
type StaticProvider struct {
	username string
	password string
}

// NewStaticProvider creates a non-interactive provider.
//
// Example:
//
//	provider := auth.NewStaticProvider("octocat", os.Getenv("GITHUB_PASSWORD"))
func NewStaticProvider(username, password string) *StaticProvider {
	return &StaticProvider{username: username, password: password}
}

// Credentials returns the preconfigured username and password.
func (p *StaticProvider) Credentials(ctx context.Context) (string, string, error) {
	return p.username, p.password, nil
}

// TwoFactorToken always fails.
func (p *StaticProvider) TwoFactorToken(ctx context.Context) (string, error) {
	return "", &core.CapabilityError{Capability: "2FA"}
}

// DeviceVerificationCode always fails.
func (p *StaticProvider) DeviceVerificationCode(ctx context.Context) (string, error) {
	return "", &core.CapabilityError{Capability: "device verification"}
}
