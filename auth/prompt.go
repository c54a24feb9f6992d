package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
	"golang.org/x/text/width"

	"github.com/DrewBradfordXYZ/observable-go/core"
)

// maxUsernameLength is GitHub's limit on username length.
const maxUsernameLength = 39

// PromptProvider asks the operator for credentials and codes.
//
// A preset username and password skip their prompts. Prompted usernames
// are re-asked until they are valid GitHub usernames. Passwords are read
// without echo when input is a terminal.
//
// Reads honour context cancellation, but a read already waiting on the
// terminal keeps the input until the operator presses enter; its line is
// then discarded.
type PromptProvider struct {
	username string
	password string

	in           *bufio.Reader
	rawIn        io.Reader
	out          io.Writer
	readPassword func() ([]byte, error)

	mu sync.Mutex
}

// PromptOption configures a PromptProvider.
type PromptOption func(*PromptProvider)

// WithUsername presets the username so it is not prompted for.
func WithUsername(username string) PromptOption {
	return func(p *PromptProvider) {
		p.username = username
	}
}

// WithPassword presets the password so it is not prompted for. It requires
// a preset username.
func WithPassword(password string) PromptOption {
	return func(p *PromptProvider) {
		p.password = password
	}
}

// WithInput sets where answers are read from (default os.Stdin).
func WithInput(r io.Reader) PromptOption {
	return func(p *PromptProvider) {
		p.rawIn = r
	}
}

// WithOutput sets where prompts are written (default os.Stdout).
func WithOutput(w io.Writer) PromptOption {
	return func(p *PromptProvider) {
		p.out = w
	}
}

// WithPasswordReader overrides how the password is read. The default uses
// term.ReadPassword when input is a terminal and reads a line otherwise.
func WithPasswordReader(fn func() ([]byte, error)) PromptOption {
	return func(p *PromptProvider) {
		p.readPassword = fn
	}
}

// NewPromptProvider creates an interactive provider.
//
// Example:
//
//	provider, err := auth.NewPromptProvider()
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewPromptProvider(opts ...PromptOption) (*PromptProvider, error) {
	p := &PromptProvider{
		rawIn: os.Stdin,
		out:   os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.password != "" && p.username == "" {
		return nil, core.NewConfigurationError("default password set without default username")
	}

	p.in = bufio.NewReader(p.rawIn)
	if p.readPassword == nil {
		p.readPassword = p.defaultPasswordReader()
	}
	return p, nil
}

// Credentials returns the preset values or prompts for the missing ones.
func (p *PromptProvider) Credentials(ctx context.Context) (string, string, error) {
	name := p.username
	for name == "" {
		line, err := p.ask(ctx, "GitHub username: ")
		if err != nil {
			return "", "", err
		}
		if ValidUsername(line) {
			name = line
			break
		}
		fmt.Fprintln(p.out, "Invalid name")
	}

	pass := p.password
	if pass == "" {
		var err error
		pass, err = p.await(ctx, func() (string, error) {
			fmt.Fprint(p.out, "GitHub password: ")
			b, err := p.readPassword()
			fmt.Fprintln(p.out)
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(b), nil
		})
		if err != nil {
			return "", "", err
		}
	}

	return name, pass, nil
}

// TwoFactorToken prompts for a 2FA code.
func (p *PromptProvider) TwoFactorToken(ctx context.Context) (string, error) {
	line, err := p.ask(ctx, "GitHub 2FA token: ")
	if err != nil {
		return "", err
	}
	return normalizeCode(line), nil
}

// DeviceVerificationCode prompts for the emailed device verification code.
func (p *PromptProvider) DeviceVerificationCode(ctx context.Context) (string, error) {
	line, err := p.ask(ctx, "GitHub device verification code: ")
	if err != nil {
		return "", err
	}
	return normalizeCode(line), nil
}

// ask writes a prompt and reads one trimmed line.
func (p *PromptProvider) ask(ctx context.Context, prompt string) (string, error) {
	return p.await(ctx, func() (string, error) {
		fmt.Fprint(p.out, prompt)
		return p.readLine()
	})
}

// await runs fn on its own goroutine so ctx can interrupt the wait.
// Reads are serialized on p.mu.
func (p *PromptProvider) await(ctx context.Context, fn func() (string, error)) (string, error) {
	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

func (p *PromptProvider) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *PromptProvider) defaultPasswordReader() func() ([]byte, error) {
	if f, ok := p.rawIn.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func() ([]byte, error) {
			return term.ReadPassword(int(f.Fd()))
		}
	}
	return func() ([]byte, error) {
		line, err := p.in.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
}

// ValidUsername reports whether s is a valid GitHub username: 1 to 39
// ASCII letters, digits or hyphens, starting with a letter or digit, with
// every hyphen followed by a letter or digit.
func ValidUsername(s string) bool {
	if len(s) == 0 || len(s) > maxUsernameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case isAlnum(c):
		case c == '-' && i > 0 && i+1 < len(s) && isAlnum(s[i+1]):
		default:
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// normalizeCode folds full-width characters, as typed with some input
// methods, to their ASCII forms.
func normalizeCode(s string) string {
	return width.Narrow.String(strings.TrimSpace(s))
}
