package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/wanderer-kills/pkg/config"
)

func consumerFixture(t *testing.T, endpoint string) (*Consumer, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture(t)

	consumer := NewConsumer(f.pipeline, config.StreamConfig{
		Endpoint:     endpoint,
		FastInterval: time.Millisecond,
		IdleInterval: time.Millisecond,
		BackoffBase:  5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		PollTimeout:  time.Second,
		CutoffAge:    time.Hour,
	})
	return consumer, f
}

func TestConsumerIngestsPackages(t *testing.T) {
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("queueID"))
		n := served.Add(1)
		if n > 1 {
			fmt.Fprint(w, `{"package": null}`)
			return
		}
		fmt.Fprintf(w, `{"package": {"killID": 2001, "killmail": %s, "zkb": {"hash": "abc"}}}`,
			wireBody(2001, 30000142, time.Now().UTC()))
	}))
	defer srv.Close()

	consumer, f := consumerFixture(t, srv.URL)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	require.Eventually(t, func() bool {
		return f.store.CountForSystem(30000142) == 1
	}, 2*time.Second, 5*time.Millisecond)

	status := consumer.Status()
	assert.Equal(t, int64(1), status.KillmailsFound)
	assert.Equal(t, int64(2001), status.LastKillmailID)
	assert.Positive(t, status.NullResponses)
}

func TestConsumerBacksOffOnErrors(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	consumer, _ := consumerFixture(t, srv.URL)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	require.Eventually(t, func() bool {
		return consumer.Status().HTTPErrors >= 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "backing_off", consumer.Status().State)
}

func TestConsumerStartIsExclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"package": null}`)
	}))
	defer srv.Close()

	consumer, _ := consumerFixture(t, srv.URL)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	assert.Error(t, consumer.Start(context.Background()))
}

func TestConsumerStopIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"package": null}`)
	}))
	defer srv.Close()

	consumer, _ := consumerFixture(t, srv.URL)
	require.NoError(t, consumer.Start(context.Background()))

	consumer.Stop()
	consumer.Stop()
	assert.Equal(t, "stopped", consumer.Status().State)
}
