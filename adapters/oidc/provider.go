package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

type Provider struct {
	*oidc.Provider
}

// NewProvider 透過 discovery 文件取得 issuer 的 JWKS 端點
func NewProvider(ctx context.Context, issuerURL string) (*Provider, error) {
	const op = "NewProvider"
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create provider, err=%w", op, err)
	}
	return &Provider{
		Provider: provider,
	}, nil
}
