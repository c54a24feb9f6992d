// Package auth provides credential providers for the GitHub login flow.
//
// The login state machine asks a Provider for input whenever a GitHub page
// needs it:
//
//   - Credentials: username and password for the sign-in page
//   - TwoFactorToken: a one-time code for the two-factor page
//   - DeviceVerificationCode: the code GitHub emails for an unrecognized device
//
// # Static Provider (Non-Interactive)
//
// Returns preconfigured credentials and fails if GitHub ever asks for 2FA or
// device verification:
//
//	provider := auth.NewStaticProvider("octocat", "secret")
//
// # Prompt Provider (Interactive)
//
// Asks the operator on the terminal. The username is validated against
// GitHub's username rules and the password is read without echo:
//
//	provider, err := auth.NewPromptProvider(auth.WithUsername("octocat"))
//
// Any other type implementing Provider can be passed to the login flow, for
// example one that reads TOTP codes from a secrets manager.
package auth

import "context"

// Provider supplies the values the login flow cannot know by itself.
//
// Each method may block, for example while waiting for terminal input, and
// should return promptly once ctx is done. A returned error aborts the
// login flow unchanged.
type Provider interface {
	// Credentials returns the username and password for the sign-in page.
	Credentials(ctx context.Context) (username, password string, err error)

	// TwoFactorToken returns a two-factor authentication code.
	TwoFactorToken(ctx context.Context) (string, error)

	// DeviceVerificationCode returns a device verification code, either six
	// digits or two groups of five hex characters.
	DeviceVerificationCode(ctx context.Context) (string, error)
}
