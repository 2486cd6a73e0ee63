package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequest_BreakerTripsAfterConsecutiveFailures drives enough upstream 5xx
// responses to trip the gobreaker circuit, then asserts the breaker itself
// (not the upstream) is what rejects the following call.
func TestRequest_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, DefaultWeight: 1})

	for i := 0; i < 5; i++ {
		_, err := lim.Request(context.Background(), srv.URL, nil, 1)
		require.Error(t, err)
	}

	_, err := lim.Request(context.Background(), srv.URL, nil, 1)
	require.Error(t, err)
	assert.ErrorContains(t, err, "circuit breaker is open")
}
