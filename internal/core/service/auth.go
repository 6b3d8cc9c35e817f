package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/pkg/token"
)

// Credential binds a token hash to a user and, optionally, a branch.
type Credential struct {
	User string `koanf:"user" json:"user" yaml:"user"`
	// Hash is the hex SHA-256 of the bearer token.
	Hash string `koanf:"hash" json:"hash" yaml:"hash"`
	// Suffix is the directory suffix of the user's branch.
	Suffix string `koanf:"suffix" json:"suffix,omitempty" yaml:"suffix,omitempty"`
}

// Authenticator resolves principals from bearer tokens.
type Authenticator struct {
	creds    []Credential
	branches BranchDirectory
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. branches may be nil, in which
// case principals never carry a branch.
func NewAuthenticator(creds []Credential, branches BranchDirectory, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		creds:    append([]Credential(nil), creds...),
		branches: branches,
		logger:   logger,
	}
}

// Authenticate maps an Authorization header value to a principal. It never
// fails: anything but a known bearer token is an anonymous principal.
func (a *Authenticator) Authenticate(ctx context.Context, header string) domain.Principal {
	raw, ok := bearerToken(header)
	if !ok {
		return domain.Principal{}
	}
	cred, ok := a.match(raw)
	if !ok {
		a.logger.Debug("unknown bearer token")
		return domain.Principal{}
	}
	p := domain.Principal{User: cred.User, Authenticated: true}
	if cred.Suffix == "" || a.branches == nil {
		return p
	}
	branch, found, err := a.branches.BranchBySuffix(ctx, cred.Suffix)
	switch {
	case err != nil:
		a.logger.Warn("branch lookup failed", "user", cred.User, "suffix", cred.Suffix, "error", err)
	case !found:
		a.logger.Warn("user bound to unknown branch", "user", cred.User, "suffix", cred.Suffix)
	default:
		p.Branch = branch
	}
	return p
}

// match compares against every credential so the time taken does not
// depend on which one matched.
func (a *Authenticator) match(raw string) (Credential, bool) {
	var (
		hit   Credential
		found bool
	)
	for _, c := range a.creds {
		if token.Verify(raw, c.Hash) && !found {
			hit, found = c, true
		}
	}
	return hit, found
}

func bearerToken(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
