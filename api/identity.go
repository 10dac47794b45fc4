package api

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"rauction/adapters/oidc"
	"rauction/auction"
)

const (
	actorContextKey   = "actor"
	accessTokenCookie = "access_token"
)

// Claims 是 access token 中的聲明，sub 為使用者 ID
type Claims struct {
	Username string       `json:"username"`
	Role     auction.Role `json:"role"`
	jwt.RegisteredClaims
}

// ParseAndValidateJWT 以 EdDSA 公鑰驗證 access token
func ParseAndValidateJWT(tokenString string, publicKey crypto.PublicKey) (*Claims, error) {
	const op = "ParseAndValidateJWT"
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("[%s] token claims are invalid", op)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("[%s] token subject is empty", op)
	}
	return claims, nil
}

// tokenVerifier 驗證 access token 並回傳操作者
type tokenVerifier interface {
	Verify(ctx context.Context, token string) (auction.Actor, error)
}

// publicKeyVerifier 以設定的 EdDSA 公鑰驗證自行簽發的 token
type publicKeyVerifier struct {
	publicKey crypto.PublicKey
}

func (v publicKeyVerifier) Verify(_ context.Context, token string) (auction.Actor, error) {
	claims, err := ParseAndValidateJWT(token, v.publicKey)
	if err != nil {
		return auction.Actor{}, err
	}
	return auction.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// issuerVerifier 以 OIDC issuer 公佈的金鑰驗證 token
type issuerVerifier struct {
	verifier *oidc.AccessTokenVerifier
}

func (v issuerVerifier) Verify(ctx context.Context, token string) (auction.Actor, error) {
	identity, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return auction.Actor{}, err
	}
	return auction.Actor{ID: identity.Subject, Role: auction.Role(identity.Role)}, nil
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil {
		return cookie
	}
	return ""
}

// authenticate 驗證 access token 並檢查角色，通過後將 auction.Actor 放入 context
func (impl *ServerImpl) authenticate(roles ...auction.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing access token"})
			return
		}
		actor, err := impl.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			impl.logger.Debug("reject access token", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid access token"})
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			impl.abortWithError(c, fmt.Errorf("%w: role %q is not allowed", auction.ErrForbidden, actor.Role))
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

var errNoActor = errors.New("no authenticated actor")

func actorFrom(c *gin.Context) (auction.Actor, error) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return auction.Actor{}, errNoActor
	}
	actor, ok := v.(auction.Actor)
	if !ok {
		return auction.Actor{}, errNoActor
	}
	return actor, nil
}
