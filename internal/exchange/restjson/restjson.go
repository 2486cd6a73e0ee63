// Package restjson is the one-line "GET and decode JSON" helper every
// exchange connector's REST accessors share, layered on top of
// internal/ratelimit.Limiter so every outbound call is weight-accounted.
package restjson

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/RuSwift/arbitrage-sub000/internal/ratelimit"
)

// Get performs a weight-accounted GET through lim and decodes the JSON body
// into out (a pointer).
func Get(ctx context.Context, lim *ratelimit.Limiter, endpoint string, params url.Values, weight int, out interface{}) error {
	resp, err := lim.Request(ctx, endpoint, params, weight)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
