package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux_ExposesCounters(t *testing.T) {
	Ticks.Add(1)
	Skips.Add("missing_quote", 2)
	RiskDecisions.Add("CONTINUE", 1)

	rec := httptest.NewRecorder()
	newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/vars", nil))
	require.Equal(t, 200, rec.Code)

	var vars map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	assert.Contains(t, vars, "ticks")
	assert.Contains(t, vars, "risk_fail_closed")

	var skips map[string]int64
	require.NoError(t, json.Unmarshal(vars["skips"], &skips))
	assert.GreaterOrEqual(t, skips["missing_quote"], int64(2))
}

func TestMux_Pprof(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestStartAsync_ServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := logrus.New()
	l.SetOutput(io.Discard)
	srv, err := StartAsync(ctx, "127.0.0.1:0", logrus.NewEntry(l))
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
