package api

import (
	"bufio"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Launchpad/internal/service"
)

// nextData returns the payload of the next "data:" line of an event stream.
func nextData(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)

		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func TestEventStream(t *testing.T) {
	svc := newService(t)

	_, err := svc.Genesis(service.GenesisParams{Owner: admin})
	require.NoError(t, err)

	srv := New(":0", svc, nil, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": subscribed\n", line)

	tok, _, err := svc.DeployToken(seller, service.TokenParams{Name: "Sale", Symbol: "SALE", Supply: big.NewInt(10)})
	require.NoError(t, err)

	var ev EventView
	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &ev))
	assert.Equal(t, "Transfer", ev.Name)
	assert.Equal(t, tok, ev.Contract)
	assert.Equal(t, seller.Hex(), ev.Args["to"])
	assert.Equal(t, "10", ev.Args["value"])

	_, err = svc.TransferToken(seller, tok, buyer, big.NewInt(4))
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &ev))
	assert.Equal(t, buyer.Hex(), ev.Args["to"])
	assert.Equal(t, "4", ev.Args["value"])

	// Stop ends open streams.
	require.NoError(t, srv.Stop())

	_, err = io.ReadAll(r)
	assert.NoError(t, err)
}
