package pushsafer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
)

// TestSend_PostsForm checks the form fields match the Pushsafer API.
func TestSend_PostsForm(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		form map[string]string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		mu.Lock()
		form = map[string]string{
			"k":  r.FormValue("k"),
			"pr": r.FormValue("pr"),
			"m":  r.FormValue("m"),
			"d":  r.FormValue("d"),
		}
		mu.Unlock()

		_, _ = w.Write([]byte(`{"status":1,"success":"message transmitted"}`))
	}))
	defer server.Close()

	tr, err := New(config.Pushsafer{Key: "private", URL: server.URL, Priority: 2, Device: "a"}, server.Client())
	require.NoError(t, err)
	require.Equal(t, Name, tr.Name())

	err = tr.Send(context.Background(), detector.Event{Label: "UPSTAIRS DOORBELL", Timestamp: time.Now()})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, map[string]string{"k": "private", "pr": "2", "m": "UPSTAIRS DOORBELL", "d": "a"}, form)
}

// TestSend_Rejections maps HTTP and API failures to ErrRejected.
func TestSend_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"http status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		},
		"api status": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":0,"error":"invalid key"}`))
		},
	}

	for name, handler := range cases {
		server := httptest.NewServer(handler)

		tr, err := New(config.Pushsafer{Key: "private", URL: server.URL, Priority: 2}, server.Client())
		require.NoError(t, err)

		err = tr.Send(context.Background(), detector.Event{Label: "DOWNSTAIRS DOORBELL"})
		require.ErrorIs(t, err, ErrRejected, name)

		server.Close()
	}
}

// TestSend_HonorsContext aborts a hanging request when the context expires.
func TestSend_HonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	tr, err := New(config.Pushsafer{Key: "private", URL: server.URL}, server.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.Error(t, tr.Send(ctx, detector.Event{Label: "DOWNSTAIRS DOORBELL"}))
}

// TestNew_RequiresKey rejects a missing credential.
func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(config.Pushsafer{}, nil)
	require.Error(t, err)
}
