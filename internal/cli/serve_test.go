package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServe_ServesUntilCancelled(t *testing.T) {
	rt := newTestRuntime(t)
	seedWeek(t, rt, "2024-03-10", 150)
	port := freePort(t)
	configured := rt.cfg.Server.Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := &ServeCommand{Host: "127.0.0.1", Port: port, globals: &GlobalFlags{}}
	done := make(chan error, 1)
	go func() { done <- cmd.executeWithRuntime(ctx, rt) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Equal(t, configured, rt.cfg.Server.Port, "flag overrides must not leak into the shared config")
}

func TestServe_InvalidSchedule(t *testing.T) {
	rt := newTestRuntime(t)
	rt.cfg.Audit.ReconcileSchedule = "not a schedule"

	cmd := &ServeCommand{Host: "127.0.0.1", Port: freePort(t), globals: &GlobalFlags{}}
	assert.Error(t, cmd.executeWithRuntime(context.Background(), rt))
}
