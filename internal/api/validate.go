package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"Launchpad/internal/service"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// defaultEventLimit caps GET /events when no limit is given.
	defaultEventLimit = 100

	// maxEventLimit is the largest accepted limit for GET /events.
	maxEventLimit = 1000
)

var errMissingSender = fmt.Errorf("%w: missing from", service.ErrInvalidArgument)

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}

	return unmarshalBody(body, dst)
}

// readBody reads a non-empty request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", service.ErrInvalidArgument, err)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", service.ErrInvalidArgument)
	}

	return body, nil
}

func unmarshalBody(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidArgument, err)
	}

	return nil
}

// pathAddress parses a hex address from a path segment.
func pathAddress(r *http.Request, name string) (common.Address, error) {
	raw := r.PathValue(name)

	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", service.ErrInvalidArgument, name, raw)
	}

	return common.HexToAddress(raw), nil
}

// pathUint parses an unsigned integer from a path segment.
func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrInvalidArgument, name)
	}

	return v, nil
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrInvalidArgument, name)
	}

	return v, nil
}

// eventWindow reads since and limit from the query string.
func eventWindow(r *http.Request) (since uint64, limit int, err error) {
	since, err = queryUint(r, "since", 0)
	if err != nil {
		return 0, 0, err
	}

	n, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil {
		return 0, 0, err
	}

	if n == 0 || n > maxEventLimit {
		return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", service.ErrInvalidArgument, maxEventLimit)
	}

	return since, int(n), nil
}

// requireAmount converts a request amount, rejecting a missing or negative value.
func requireAmount(name string, v *math.HexOrDecimal256) (*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: missing %s", service.ErrInvalidArgument, name)
	}

	n := (*big.Int)(v)
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s", service.ErrInvalidArgument, name)
	}

	return new(big.Int).Set(n), nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "":
		return http.StatusInternalServerError
	case "Unauthenticated":
		return http.StatusUnauthorized
	case "Unauthorized":
		return http.StatusForbidden
	case "LaunchpadNotFound", "TokenNotFound", "FactoryNotFound":
		return http.StatusNotFound
	case "AlreadyClaimed", "AlreadyFinalized", "LaunchpadFinalized",
		"LaunchpadExists", "TokenExists", "FactoryExists":
		return http.StatusConflict
	case "NoIssuer", "NotInitialized", "ClockFixed":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
