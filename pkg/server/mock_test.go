package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/loadshift/pkg/controller"
	"github.com/raterudder/loadshift/pkg/device"
	"github.com/raterudder/loadshift/pkg/storage"
	"github.com/raterudder/loadshift/pkg/types"
	"github.com/raterudder/loadshift/pkg/utility"
)

type mockPrices struct {
	mock.Mock
}

func (m *mockPrices) GetPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	args := m.Called(ctx, start, end)
	if p, ok := args.Get(0).([]types.Price); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// testNow is inside the update hour and outside both default windows.
var testNow = time.Date(2026, 3, 5, 20, 10, 0, 0, time.UTC)

// halfHours returns consecutive slots starting at from, priced in order.
func halfHours(from time.Time, prices ...string) []types.Price {
	out := make([]types.Price, 0, len(prices))
	for i, p := range prices {
		start := from.Add(time.Duration(i) * 30 * time.Minute)
		out = append(out, types.Price{
			Provider:    "octopus",
			TSStart:     start,
			TSEnd:       start.Add(30 * time.Minute),
			PencePerKWH: decimal.RequireFromString(p),
		})
	}
	return out
}

// testPrices covers 20:00 to 08:00. The water heater window 22:00 to 06:00
// holds 8, 9, 10, 12 and twelve slots at 20.
func testPrices() []types.Price {
	return halfHours(
		time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC),
		"15", "16", "17", "18", // 20:00-22:00
		"12", "20", "20", "10", "20", "20", "9", "20", // 22:00-02:00
		"20", "8", "20", "20", "20", "20", "20", "20", // 02:00-06:00
		"30", "30", "30", "30", // 06:00-08:00
	)
}

// testEntities is a complete store for the default devices.
func testEntities() map[string]string {
	return map[string]string{
		"input_number.octopus_cur_cost":      "25",
		"input_number.octopus_min_cost":      "25",
		"binary_sensor.is_dst":               "off",
		"input_datetime.wh_start_time":       "22:00:00",
		"input_datetime.wh_stop_time":        "06:00:00",
		"input_boolean.wh_override":          "off",
		"input_number.wh_threshold":          "9",
		"input_number.wh_min_slots":          "3.0",
		"input_datetime.tesla_start_time":    "23:00:00",
		"input_datetime.tesla_stop_time":     "05:00:00",
		"input_boolean.tesla_override":       "off",
		"input_number.tesla_threshold":       "9",
		"input_number.tesla_min_slots":       "2.0",
		"device_tracker.ev_location_tracker": "not_home",
		"binary_sensor.ev_charger_sensor":    "on",
	}
}

// newTestServer returns a built Server around st whose bus is running until
// the test ends.
func newTestServer(t *testing.T, st storage.Store, prices utility.Provider) (*Server, *device.DryRun) {
	t.Helper()
	u := utility.NewMap()
	u.SetProvider("octopus", prices)
	u.SetSelected("octopus")

	dry := device.NewDryRun()
	s := &Server{
		utilities:            u,
		prices:               prices,
		store:                st,
		switcher:             dry,
		devices:              types.DefaultDevices(),
		entities:             types.DefaultEntities(),
		updateHour:           controller.DefaultUpdateHour,
		headroom:             controller.DefaultHeadroom,
		location:             time.UTC,
		dstFlag:              true,
		schedule:             "0,30 * * * *",
		now:                  func() time.Time { return testNow },
		listenAddr:           "127.0.0.1:0",
		serverName:           "loadshift",
		allowUnauthenticated: true,
	}
	require.NoError(t, s.build())
	return s, dry
}

func startBus(t *testing.T, s *Server) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

// oidcIssuer is a minimal OpenID provider serving discovery and keys.
type oidcIssuer struct {
	*httptest.Server
	key *rsa.PrivateKey
}

func newOIDCIssuer(t *testing.T) *oidcIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	iss := &oidcIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                iss.URL,
			"authorization_endpoint":                iss.URL + "/auth",
			"token_endpoint":                        iss.URL + "/token",
			"jwks_uri":                              iss.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Close)
	return iss
}

// token returns an RS256 ID token for email issued to audience.
func (i *oidcIssuer) token(t *testing.T, audience, email string) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	now := time.Now()
	input := enc(map[string]string{"alg": "RS256", "kid": "test", "typ": "JWT"}) + "." + enc(map[string]any{
		"iss":            i.URL,
		"aud":            audience,
		"sub":            email,
		"email":          email,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	sum := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, i.key, crypto.SHA256, sum[:])
	require.NoError(t, err)
	return input + "." + base64.RawURLEncoding.EncodeToString(sig)
}
