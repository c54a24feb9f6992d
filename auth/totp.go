package auth

import (
	"context"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/DrewBradfordXYZ/observable-go/core"
)

// TOTPProvider answers GitHub's 2FA prompt with codes computed from an
// authenticator app secret. Credentials and device verification codes come
// from the wrapped provider.
type TOTPProvider struct {
	Provider
	secret string
	now    func() time.Time
}

// GitHub authenticator codes: RFC 6238 defaults.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NewTOTPProvider wraps base with TOTP 2FA. The secret is the base32 key
// GitHub shows when setting up an authenticator app; spaces and case are
// ignored.
//
// Example:
//
//	base := auth.NewStaticProvider("octocat", os.Getenv("GITHUB_PASSWORD"))
//	provider, err := auth.NewTOTPProvider(os.Getenv("GITHUB_TOTP_SECRET"), base)
func NewTOTPProvider(secret string, base Provider) (*TOTPProvider, error) {
	if base == nil {
		return nil, core.NewConfigurationError("TOTP provider needs a base provider")
	}
	p := &TOTPProvider{
		Provider: base,
		secret:   strings.ToUpper(strings.Join(strings.Fields(secret), "")),
		now:      time.Now,
	}
	if p.secret == "" {
		return nil, core.NewConfigurationError("empty TOTP secret")
	}
	if _, err := p.code(); err != nil {
		return nil, core.NewConfigurationError("invalid TOTP secret: %v", err)
	}
	return p, nil
}

// TwoFactorToken returns the code for the current time step.
func (p *TOTPProvider) TwoFactorToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.code()
}

func (p *TOTPProvider) code() (string, error) {
	return totp.GenerateCodeCustom(p.secret, p.now().UTC(), totpOpts)
}
