// 參考https://auth0.com/docs/get-started/apis/scopes/openid-connect-scopes
package oidc

type OpenID struct {
	Sub string `json:"sub"`
	Iss string `json:"iss"`
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat"`
}

type Profile struct {
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
	PreferredUsername string `json:"preferred_username"`
}

// accessTokenClaims 是 access token 中使用到的聲明；角色聲明的名稱可以設定，所以另外解析
type accessTokenClaims struct {
	OpenID
	Profile
}

func (c accessTokenClaims) username() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.Nickname != "":
		return c.Nickname
	default:
		return c.Name
	}
}
