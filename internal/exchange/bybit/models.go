package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// decodeResult checks the API-level return code and unmarshals the Result
// payload into out. The official client deserializes Result into generic
// maps, so we round-trip through JSON to get typed structs.
func decodeResult(resp *bybit_api.ServerResponse, out interface{}) error {
	if resp == nil {
		return fmt.Errorf("empty server response")
	}
	if resp.RetCode != 0 {
		return apiError(resp.RetCode, resp.RetMsg)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// parseFloat parses Bybit's string-encoded numbers. Empty strings decode to
// zero because the API omits fields it considers not applicable.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return v, nil
}

// parseTimestamp parses a millisecond epoch string.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms), nil
}
