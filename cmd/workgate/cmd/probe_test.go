package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psantana5/workgate/internal/report"
	"github.com/psantana5/workgate/pkg/api"
	"github.com/psantana5/workgate/pkg/client"
	"github.com/psantana5/workgate/pkg/gate"
	"github.com/psantana5/workgate/pkg/logging"
	"github.com/psantana5/workgate/pkg/timed"
	"github.com/psantana5/workgate/pkg/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFire_AgainstServer(t *testing.T) {
	const unit = 100 * time.Millisecond

	logger := logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(&bytes.Buffer{})
	handler := api.NewHandler(timed.New(gate.New(), work.NewSleep(unit)), logger)
	srv := httptest.NewServer(handler.Router(api.Middleware{}))
	defer srv.Close()

	calls, wall := fire(context.Background(), client.NewClient(srv.URL), 3)
	r := report.Build(srv.URL, calls, wall, unit, unit/2)

	require.Zero(t, r.Failed, "calls: %+v", r.Calls)
	assert.True(t, r.Serialized, "violations: %+v", r.Violations)
	assert.InDelta(t, 3*unit.Seconds(), wall.Seconds(), unit.Seconds())
}

func TestConfigShow_MasksAPIKey(t *testing.T) {
	t.Setenv("WORKGATE_AUTH_API_KEY", "s3cret")
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	require.NoError(t, runConfigShow(configShowCmd, nil))

	assert.Contains(t, out.String(), "port: 8000")
	assert.NotContains(t, out.String(), "s3cret")
}
