package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/loadshift/pkg/homeassistant"
)

func TestHomeAssistantStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/states/input_datetime.wh_start_time":
			_, _ = w.Write([]byte(`{"entity_id":"input_datetime.wh_start_time","state":"22:00:00"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/states/input_number.wh_threshold":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	s := NewHomeAssistant(homeassistant.New(ts.URL, "token", time.Second))
	ctx := context.Background()

	v, err := s.GetState(ctx, "input_datetime.wh_start_time")
	require.NoError(t, err)
	assert.Equal(t, "22:00:00", v)

	_, err = s.GetState(ctx, "input_datetime.missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.SetState(ctx, "input_number.wh_threshold", "9", nil))
	assert.NoError(t, s.Close())
}
