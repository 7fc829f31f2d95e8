package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pezkuwi/pezkuwi_wallet/internal/chain/chaintest"
	"github.com/pezkuwi/pezkuwi_wallet/internal/config"
	"github.com/pezkuwi/pezkuwi_wallet/internal/identity"
	"github.com/pezkuwi/pezkuwi_wallet/internal/logging"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
)

type testAPI struct {
	app   *fiber.App
	fake  *chaintest.Fake
	svcs  *Services
	token string
}

func testConfig() config.Config {
	return config.Config{
		AppName:         "PezkuwiWalletTest",
		AppEnv:          "test",
		IdempotencyTTL:  time.Minute,
		SS58Prefix:      42,
		TokenDecimals:   12,
		SessionTTL:      time.Hour,
		SessionSecret:   "test-secret",
		LoginRateLimit:  5,
		TxPollInterval:  5 * time.Millisecond,
		KYCPollInterval: time.Second,
	}
}

func newTestAPI(t *testing.T, cache *redis.Client) *testAPI {
	t.Helper()
	fake := chaintest.New()
	app := fiber.New()
	svcs, err := Setup(app, Deps{
		Cfg:    testConfig(),
		Cache:  cache,
		Store:  securestore.NewMemoryStore(),
		Chain:  fake,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	identity.UseMinCost(svcs.Identity)
	t.Cleanup(func() { _ = svcs.Wallet.Close(context.Background()) })
	return &testAPI{app: app, fake: fake, svcs: svcs}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if a.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+a.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := a.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (a *testAPI) register(t *testing.T, headers ...string) string {
	t.Helper()
	status, body := a.do(t, fiber.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "azad@example.org", "password": "password1", "name": "Azad",
	}, headers...)
	require.Equal(t, http.StatusCreated, status, string(body))

	var sess struct {
		Token         string `json:"token"`
		WalletAddress string `json:"wallet_address"`
	}
	require.NoError(t, json.Unmarshal(body, &sess))
	require.NotEmpty(t, sess.Token)
	require.NotEmpty(t, sess.WalletAddress)
	a.token = sess.Token
	return sess.WalletAddress
}

func TestSetupRequiresBackingServicesOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	_, err := Setup(fiber.New(), Deps{Cfg: cfg, Store: securestore.NewMemoryStore(), Chain: chaintest.New()})
	assert.Error(t, err)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, path := range []string{"/api/v1/wallet", "/api/v1/kyc/status", "/api/v1/me"} {
		status, _ := api.do(t, fiber.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}
}

func TestWalletFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	address := api.register(t)

	status, body := api.do(t, fiber.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), address)

	api.fake.SetBalances(address, 3_000_000_000_000, 0, 0)
	status, body = api.do(t, fiber.MethodGet, "/api/v1/wallet/balance", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"display"`)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/wallet/send", map[string]string{
		"to": "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "amount": "1.25", "token": "HEZ",
	})
	require.Equal(t, http.StatusAccepted, status, string(body))
	assert.Len(t, api.fake.Submitted(), 1)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/wallet/send", map[string]string{
		"to": "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "amount": "99", "token": "HEZ",
	})
	assert.Equal(t, http.StatusConflict, status, string(body))
	assert.Len(t, api.fake.Submitted(), 1)

	status, body = api.do(t, fiber.MethodGet, "/api/v1/wallet/history", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty")

	status, body = api.do(t, fiber.MethodGet, "/api/v1/wallet/qr.png", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))
}

func TestWalletCreateNeedsOverwriteToReplace(t *testing.T) {
	api := newTestAPI(t, nil)
	address := api.register(t)

	status, body := api.do(t, fiber.MethodPost, "/api/v1/wallet", map[string]any{})
	require.Equal(t, http.StatusConflict, status, string(body))
	assert.Contains(t, string(body), "wallet_exists")

	status, body = api.do(t, fiber.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), address)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/wallet", map[string]any{"overwrite": true})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.NotContains(t, string(body), address)
}

func TestQRSizeIsBounded(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register(t)

	status, body := api.do(t, fiber.MethodGet, "/api/v1/wallet/qr.png?size=100000", nil)
	require.Equal(t, http.StatusOK, status)
	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), qrimage.MaxSize)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/payments/requests", map[string]string{
		"merchant": "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "amount": "2", "token": "PEZ",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	status, body = api.do(t, fiber.MethodGet, "/api/v1/payments/requests/qr.png?size=99999&payload="+url.QueryEscape(created.Payload), nil)
	require.Equal(t, http.StatusOK, status, string(body))
	img, err = png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), qrimage.MaxSize)
}

func TestKYCFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	address := api.register(t)

	form := map[string]any{
		"fullName":      "Ahmed Karwan",
		"fatherName":    "Karwan Ali",
		"motherName":    "Layla Hassan",
		"maritalStatus": "single",
		"region":        "basur",
	}
	status, body := api.do(t, fiber.MethodPost, "/api/v1/kyc/submit", form)
	require.Equal(t, http.StatusCreated, status, string(body))
	var commitment struct {
		DataHash string `json:"dataHash"`
	}
	require.NoError(t, json.Unmarshal(body, &commitment))
	assert.Equal(t, "0x6f5b1ac986f53b8f3e93a47fe6a8334cd11843d934e58752d2df72cbe64d7878", commitment.DataHash)
	assert.NotContains(t, string(body), "Layla")

	status, body = api.do(t, fiber.MethodPost, "/api/v1/kyc/poll", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"approved":false`)

	api.fake.Approve(address, commitment.DataHash)
	status, body = api.do(t, fiber.MethodPost, "/api/v1/kyc/poll", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"approved":true`)

	status, body = api.do(t, fiber.MethodGet, "/api/v1/kyc/status", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"governance_access":true`)

	status, body = api.do(t, fiber.MethodGet, "/api/v1/kyc/credential/qr.png", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = api.do(t, fiber.MethodDelete, "/api/v1/kyc", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body = api.do(t, fiber.MethodGet, "/api/v1/kyc/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"not_started"`)
}

func TestPaymentRequestFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register(t)

	status, body := api.do(t, fiber.MethodPost, "/api/v1/payments/requests", map[string]string{
		"merchant": "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "amount": "2", "token": "PEZ", "note": "tea",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.Payload)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/payments/requests/parse", map[string]string{"payload": created.Payload})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "tea")

	status, body = api.do(t, fiber.MethodPost, "/api/v1/payments/requests/parse", map[string]string{"payload": "{}"})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
}

func TestSessionAndIdempotencyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	api := newTestAPI(t, cache)
	address := api.register(t)
	assert.NotEmpty(t, mr.Keys())

	api.fake.SetBalances(address, 3_000_000_000_000, 0, 0)
	status, body := api.do(t, fiber.MethodGet, "/api/v1/wallet/balance", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	send := map[string]string{"to": "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "amount": "1", "token": "HEZ"}
	status, first := api.do(t, fiber.MethodPost, "/api/v1/wallet/send", send, "Idempotency-Key", "send-1")
	require.Equal(t, http.StatusAccepted, status, string(first))
	status, second := api.do(t, fiber.MethodPost, "/api/v1/wallet/send", send, "Idempotency-Key", "send-1")
	require.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, string(first), string(second))
	assert.Len(t, api.fake.Submitted(), 1)

	status, _ = api.do(t, fiber.MethodPost, "/api/v1/kyc/poll", nil)
	assert.Equal(t, http.StatusBadRequest, status, "unsafe methods need an idempotency key")

	status, body = api.do(t, fiber.MethodGet, "/api/v1/auth/session", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "azad@example.org")

	status, _ = api.do(t, fiber.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, fiber.MethodGet, "/api/v1/wallet", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil)

	status, body := api.do(t, fiber.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"chain":"ok"`)

	status, body = api.do(t, fiber.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), "# HELP") || len(body) == 0)
}
