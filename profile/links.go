package profile

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/fetch"
)

const (
	tokenLength   = 32
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// TokenValidity is how long a generated link stays usable.
	TokenValidity = 60 * time.Minute
)

// LinkNotice is appended to every message carrying links.
var LinkNotice = fmt.Sprintf("Links will be valid for the next %d minutes", int(TokenValidity.Minutes()))

func randomToken() (string, error) {
	size := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(tokenLength)
	for range tokenLength {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateAuthToken returns the current token of p when still valid, a new
// one otherwise. The expiry is pushed to now + TokenValidity either way.
func (o *Orchestrator) GenerateAuthToken(ctx context.Context, p *db.Profile) (string, error) {
	now := o.now()
	token := ""
	if p.Token != nil && p.TokenExpiry != nil && p.TokenExpiry.After(now) {
		token = *p.Token
	} else {
		var err error
		if token, err = randomToken(); err != nil {
			return "", err
		}
	}
	expiry := now.Add(TokenValidity)

	err := o.db.WithContext(ctx).Model(p).Updates(map[string]any{"token": token, "token_expiry": expiry}).Error
	if err != nil {
		return "", fmt.Errorf("failed to store token of %s: %w", p.Name, err)
	}
	p.Token, p.TokenExpiry = &token, &expiry
	return token, nil
}

// RevokeToken invalidates the links of the active profile.
func (o *Orchestrator) RevokeToken(ctx context.Context, sess *Session) (db.Profile, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return p, err
	}
	err = o.db.WithContext(ctx).Model(&p).Updates(map[string]any{"token": nil, "token_expiry": nil}).Error
	if err != nil {
		return p, fmt.Errorf("failed to revoke token of %s: %w", p.Name, err)
	}
	p.Token, p.TokenExpiry = nil, nil
	return p, nil
}

// ValidateToken loads profile name if token is its current, unexpired token.
func (o *Orchestrator) ValidateToken(ctx context.Context, name, token string) (db.Profile, error) {
	p, err := o.Get(ctx, name)
	if err != nil {
		return p, domain.ErrForbidden
	}
	if p.Token == nil || p.TokenExpiry == nil || !p.TokenExpiry.After(o.now()) ||
		subtle.ConstantTimeCompare([]byte(*p.Token), []byte(token)) != 1 {
		return p, domain.ErrForbidden
	}
	return p, nil
}

func (o *Orchestrator) link(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	return strings.TrimRight(o.publicURL, "/") + "/" + strings.Join(escaped, "/")
}

func (o *Orchestrator) activeWithToken(ctx context.Context, sess *Session) (db.Profile, string, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return p, "", err
	}
	token, err := o.GenerateAuthToken(ctx, &p)
	return p, token, err
}

// EditLink is the config editor link of the active profile.
func (o *Orchestrator) EditLink(ctx context.Context, sess *Session) (string, error) {
	p, token, err := o.activeWithToken(ctx, sess)
	if err != nil {
		return "", err
	}
	return o.link("edit", p.Name, token), nil
}

// fileLink is the download link of one file of p.
func (o *Orchestrator) fileLink(p db.Profile, token, file string) string {
	return o.link("files", p.Name, token, file)
}

// ModPackLink packs the built mods of the active profile and links the archive.
func (o *Orchestrator) ModPackLink(ctx context.Context, sess *Session) (string, error) {
	p, token, err := o.activeWithToken(ctx, sess)
	if err != nil {
		return "", err
	}
	if _, err := fetch.BuildModPack(o.Dir(p.Name), p.Name); err != nil {
		return "", err
	}
	return o.fileLink(p, token, fetch.ModPackName(p.Name)), nil
}

// ClientLink is the download link of the game client matching the active
// profile's version.
func (o *Orchestrator) ClientLink(ctx context.Context, sess *Session, platform domain.Platform, flavor domain.BuildFlavor) (string, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return "", err
	}
	rows, err := o.catalog.GameReleasesForVersion(ctx, p.GameRelease.Version)
	if err != nil {
		return "", err
	}
	for _, rel := range rows {
		if rel.BuildFlavor == flavor && rel.Platform == platform {
			return o.remote.ClientDownloadURL(rel.RemotePath), nil
		}
	}
	return "", fmt.Errorf("%w: %s build of %s for %s", domain.ErrNoMatchingVersion, flavor, p.GameRelease.Version, platform)
}
