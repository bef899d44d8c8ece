package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BurstThenDeny(t *testing.T) {
	t.Parallel()
	l := New(60, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1:1234"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1:1234"))

	// a different address has its own bucket
	assert.True(t, l.Allow("10.0.0.2:1234"))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	l := New(60, 1)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "10.0.0.3:5555"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	l := New(60, 1)
	defer l.Stop()

	l.Allow("10.0.0.4:1")
	l.Allow("10.0.0.5:1")
	assert.Equal(t, 2, l.Len())

	time.Sleep(5 * time.Millisecond)
	l.cleanup(time.Millisecond)
	assert.Equal(t, 0, l.Len())
}
