package esi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ESIConfig{
		BaseURL:   baseURL,
		UserAgent: "wanderer-kills-test",
		Timeout:   5 * time.Second,
	}, config.EnrichmentConfig{
		MaxRetries:  2,
		RetryBase:   time.Millisecond,
		RetryFactor: 2.0,
	})
}

func TestGetCharacter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/characters/95465499/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"CCP Bartender","corporation_id":109299958}`))
	}))
	defer srv.Close()

	character, err := newTestClient(srv.URL).GetCharacter(context.Background(), 95465499)
	require.NoError(t, err)
	assert.Equal(t, "CCP Bartender", character.Name)
	assert.Equal(t, int64(109299958), character.CorporationID)
}

func TestGetShipType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/universe/types/587/", r.URL.Path)
		w.Write([]byte(`{"name":"Rifter","group_id":25}`))
	}))
	defer srv.Close()

	shipType, err := newTestClient(srv.URL).GetShipType(context.Background(), 587)
	require.NoError(t, err)
	assert.Equal(t, "Rifter", shipType.Name)
}

func TestNotFoundIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetCharacter(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, handlers.ErrorTypeNotFound, handlers.AsAppError(err).Type)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"name":"Rifter","group_id":25}`))
	}))
	defer srv.Close()

	client := NewClient(config.ESIConfig{
		BaseURL:   srv.URL,
		UserAgent: "wanderer-kills-test",
		Timeout:   5 * time.Second,
	}, config.EnrichmentConfig{
		MaxRetries:  3,
		RetryBase:   time.Millisecond,
		RetryFactor: 2.0,
	})

	shipType, err := client.GetShipType(context.Background(), 587)
	require.NoError(t, err)
	assert.Equal(t, "Rifter", shipType.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"name":"Jita","corporation_id":1}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, err := client.GetCharacter(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBackoffUsesConfiguredBaseAndFactor(t *testing.T) {
	r := NewDefaultRetryClient(nil, 10*time.Millisecond, 3.0)

	assert.Equal(t, 10*time.Millisecond, r.backoff(0))
	assert.Equal(t, 30*time.Millisecond, r.backoff(1))
	assert.Equal(t, 90*time.Millisecond, r.backoff(2))
}

func TestBackoffDefaultsWhenUnset(t *testing.T) {
	r := NewDefaultRetryClient(nil, 0, 0)

	assert.Equal(t, time.Second, r.backoff(0))
	assert.Equal(t, 2*time.Second, r.backoff(1))
}

func TestGetKillmailReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/killmails/1001/abc123/", r.URL.Path)
		w.Write([]byte(`{"killmail_id":1001}`))
	}))
	defer srv.Close()

	raw, err := newTestClient(srv.URL).GetKillmail(context.Background(), 1001, "abc123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"killmail_id":1001}`, string(raw))
}
