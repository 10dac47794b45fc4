package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

var ErrMissingSubject = errors.New("token subject is empty")

// Identity 是從 access token 取得的使用者資訊
type Identity struct {
	Subject  string
	Username string
	Role     string
}

type verifierOptions struct {
	roleClaim    string
	signingAlgs  []string
	skipAudience bool
}

type VerifierOption func(*verifierOptions)

// WithRoleClaim 設置存放角色的聲明名稱，預設為 role
func WithRoleClaim(name string) VerifierOption {
	return func(o *verifierOptions) {
		o.roleClaim = name
	}
}

// WithSigningAlgs 設置允許的簽章演算法
func WithSigningAlgs(algs ...string) VerifierOption {
	return func(o *verifierOptions) {
		o.signingAlgs = algs
	}
}

// WithSkipAudienceCheck 不檢查 aud，適用於 issuer 不發 aud 的情況
func WithSkipAudienceCheck() VerifierOption {
	return func(o *verifierOptions) {
		o.skipAudience = true
	}
}

// AccessTokenVerifier 以 issuer 公佈的 JWKS 驗證 access token
type AccessTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	options  verifierOptions
}

func NewAccessTokenVerifier(provider *Provider, audience string, opts ...VerifierOption) *AccessTokenVerifier {
	// 默認選項
	options := verifierOptions{
		roleClaim:   "role",
		signingAlgs: []string{oidc.RS256, oidc.ES256, oidc.EdDSA},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &AccessTokenVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:             audience,
			SkipClientIDCheck:    options.skipAudience || audience == "",
			SupportedSigningAlgs: options.signingAlgs,
		}),
		options: options,
	}
}

// Verify 驗證簽章、issuer、aud 與有效期限，並取出使用者資訊
func (v *AccessTokenVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	const op = "AccessTokenVerifier.Verify"
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("[%s] err=%w", op, err)
	}
	if token.Subject == "" {
		return Identity{}, fmt.Errorf("[%s] %w", op, ErrMissingSubject)
	}

	var claims accessTokenClaims
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("[%s] Fail to parse claims, err=%w", op, err)
	}
	var raw map[string]any
	if err := token.Claims(&raw); err != nil {
		return Identity{}, fmt.Errorf("[%s] Fail to parse claims, err=%w", op, err)
	}
	role, _ := raw[v.options.roleClaim].(string)
	return Identity{
		Subject:  token.Subject,
		Username: claims.username(),
		Role:     role,
	}, nil
}
