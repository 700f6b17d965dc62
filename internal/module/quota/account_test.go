package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAccountClient(t *testing.T, handler http.Handler) (*AccountClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewAccountClient(&AccountClientConfig{
		BaseURL:          srv.URL,
		UploadLimit:      10,
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	}, srv.Client(), zap.NewNop(), nil)

	return client, srv
}

func TestAccountClient_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the upload counter", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/user-uploads/user@example.com", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"filesUploaded": 4,
				"limit":         10,
				"plan":          "free",
			})
		}))

		snap, err := client.Check(ctx, "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 4, snap.Used)
		assert.Equal(t, 10, snap.Limit)
		assert.Equal(t, TierFree, snap.Tier)
	})

	t.Run("maps a premium plan", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"filesUploaded": 120,
				"limit":         10,
				"plan":          "premium",
			})
		}))

		snap, err := client.Check(ctx, "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, TierPremium, snap.Tier)
	})

	t.Run("falls back to the configured limit when unreported", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"filesUploaded": 1})
		}))

		snap, err := client.Check(ctx, "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 10, snap.Limit)
	})

	t.Run("returns ErrAccountNotFound on 404", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := client.Check(ctx, "new@example.com")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("returns ErrAccountUnavailable on server error", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := client.Check(ctx, "user@example.com")
		assert.ErrorIs(t, err, ErrAccountUnavailable)
	})

	t.Run("returns ErrAccountUnavailable on malformed body", func(t *testing.T) {
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))

		_, err := client.Check(ctx, "user@example.com")
		assert.ErrorIs(t, err, ErrAccountUnavailable)
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		var calls atomic.Int64
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		for i := 0; i < 5; i++ {
			_, err := client.Check(ctx, "user@example.com")
			assert.ErrorIs(t, err, ErrAccountUnavailable)
		}

		// Threshold is 3; further calls short-circuit without hitting the server.
		assert.Equal(t, int64(3), calls.Load())
	})

	t.Run("404s do not trip the breaker", func(t *testing.T) {
		var calls atomic.Int64
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))

		for i := 0; i < 10; i++ {
			_, err := client.Check(ctx, "new@example.com")
			assert.ErrorIs(t, err, ErrAccountNotFound)
		}
		assert.Equal(t, int64(10), calls.Load())
	})
}

func TestAccountClient_Increment(t *testing.T) {
	ctx := context.Background()

	t.Run("posts one increment per unit of cost", func(t *testing.T) {
		var calls atomic.Int64
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/increment-upload", r.URL.Path)

			var body struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "user@example.com", body.ID)

			_ = json.NewEncoder(w).Encode(map[string]any{"filesUploaded": 5})
		}))

		require.NoError(t, client.Increment(ctx, "user@example.com", 3))
		assert.Equal(t, int64(3), calls.Load())
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		var calls atomic.Int64
		client, _ := newTestAccountClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) > 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"filesUploaded": 1})
		}))

		err := client.Increment(ctx, "user@example.com", 3)
		assert.ErrorIs(t, err, ErrAccountUnavailable)
		assert.Equal(t, int64(2), calls.Load())
	})
}
