package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNtfy_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNtfy(srv.URL+"/", "greenhouse-alerts")
	require.True(t, n.Enabled())
	require.NoError(t, n.Send("Command failed", "roof-window-1 timed_open"))

	assert.Equal(t, "greenhouse-alerts", got["topic"])
	assert.Equal(t, "Command failed", got["title"])
	assert.Equal(t, "roof-window-1 timed_open", got["message"])
}

func TestNtfy_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewNtfy(srv.URL, "t").Send("a", "b")
	assert.EqualError(t, err, "ntfy returned non-success status: 429")
}

func TestNtfy_DisabledWithoutTopic(t *testing.T) {
	n := NewNtfy("", "")
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send("a", "b"))
}
