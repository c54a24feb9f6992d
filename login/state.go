package login

import (
	"net/url"
	"strings"
)

// GitHub endpoints used by the login flow.
const (
	GitHubLoginURL              = "https://github.com/login"
	GitHubSessionURL            = "https://github.com/session"
	GitHubTwoFactorURL          = "https://github.com/sessions/two-factor"
	GitHubDeviceVerificationURL = "https://github.com/sessions/verified-device"
)

// State identifies the page a login step landed on.
type State int

const (
	StateUnknown State = iota
	StateLogin
	StateTwoFactor
	StateDeviceVerification
	StateDone
)

func (s State) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateTwoFactor:
		return "two-factor"
	case StateDeviceVerification:
		return "device-verification"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Endpoints are the URLs that identify each state, plus where credentials
// are posted. All are absolute URLs; only scheme, host and path matter
// when classifying.
type Endpoints struct {
	// Login is the provider's sign-in page.
	Login string
	// Session receives the sign-in form.
	Session string
	// TwoFactor is the two-factor page. Its form is posted back to the URL
	// the page was served from.
	TwoFactor string
	// DeviceVerification is the device verification page and its form target.
	DeviceVerification string
	// Done is the site page the flow redirects to on success.
	Done string
}

// DefaultEndpoints returns GitHub's endpoints with Done set to siteURL+redirectPath.
func DefaultEndpoints(siteURL, redirectPath string) Endpoints {
	return Endpoints{
		Login:              GitHubLoginURL,
		Session:            GitHubSessionURL,
		TwoFactor:          GitHubTwoFactorURL,
		DeviceVerification: GitHubDeviceVerificationURL,
		Done:               strings.TrimRight(siteURL, "/") + CleanRedirectPath(redirectPath),
	}
}

// CleanRedirectPath returns path with a leading slash; empty means "/".
func CleanRedirectPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// GitHubAt returns the GitHub endpoints rooted at base instead of
// https://github.com, with Done set to siteURL+redirectPath.
func GitHubAt(base, siteURL, redirectPath string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		Login:              base + "/login",
		Session:            base + "/session",
		TwoFactor:          base + "/sessions/two-factor",
		DeviceVerification: base + "/sessions/verified-device",
		Done:               strings.TrimRight(siteURL, "/") + CleanRedirectPath(redirectPath),
	}
}

// Classify maps a URL to the state it represents. Query string and
// fragment are ignored, so "https://github.com/login?return_to=x" is
// StateLogin.
func (e Endpoints) Classify(rawURL string) State {
	page := stripURL(rawURL)
	if page == "" {
		return StateUnknown
	}
	switch page {
	case stripURL(e.Login):
		return StateLogin
	case stripURL(e.TwoFactor):
		return StateTwoFactor
	case stripURL(e.DeviceVerification):
		return StateDeviceVerification
	case stripURL(e.Done):
		return StateDone
	}
	return StateUnknown
}

// stripURL reduces a URL to scheme://host/path, with an empty path read
// as "/". Unparseable input yields "".
func stripURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
}
