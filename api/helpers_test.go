package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"rauction/auction"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	impl       *ServerImpl
	privateKey ed25519.PrivateKey
}

func setupServer(t *testing.T, opts ...func(*ServerConfig)) *testServer {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	require.NoError(t, err)

	config := ServerConfig{
		ID:     "test",
		Ledger: LedgerConfig{Driver: "memory"},
		Auth: AuthConfig{
			PublicKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}),
		},
		Bids: BidsConfig{LockTimeout: 5 * time.Second},
		SSE:  SSEConfig{Heartbeat: time.Minute},
	}
	for _, opt := range opts {
		opt(&config)
	}
	impl, err := NewServer(config)
	require.NoError(t, err)
	impl.Start()
	t.Cleanup(impl.Close)
	return &testServer{impl: impl, privateKey: privateKey}
}

func (s *testServer) token(t *testing.T, subject string, role auction.Role) string {
	t.Helper()
	claims := Claims{
		Username: subject,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
	require.NoError(t, err)
	return signed
}

// do 送出請求並回傳 recorder，token 為空時不帶 Authorization
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.impl.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createLiveAuction 建立並開始一場起始價 1000、遞減 50 的拍賣
func (s *testServer) createLiveAuction(t *testing.T, buyer string) auction.AuctionView {
	t.Helper()
	token := s.token(t, buyer, auction.RoleBuyer)
	w := s.do(t, http.MethodPost, "/api/auctions", token, map[string]any{
		"title":           "Steel supply Q3",
		"startPrice":      "1000",
		"decrementStep":   "50",
		"durationMinutes": 30,
		"itemsText":       "Steel pipe,10,m\nBolts",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[auction.AuctionView](t, w)

	w = s.do(t, http.MethodPost, "/api/auctions/"+view.ID.String()+"/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return view
}
