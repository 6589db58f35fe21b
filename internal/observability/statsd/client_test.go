package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().String()
}

func readLine(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestClientDisabled(t *testing.T) {
	client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	// Writes on a disabled client are silent no-ops.
	client.Count("jobs.claimed", 1, nil)
	assert.NoError(t, client.Close())
}

func TestClientCountWithTags(t *testing.T) {
	server, addr := listenUDP(t)
	client, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "fortify.fix_agent."})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.True(t, client.Enabled())

	client.Count("job.transition", 1, map[string]string{
		"job_type": "fix_vulnerability",
		"result":   "success",
	})
	line := readLine(t, server)
	assert.Equal(t, "fortify.fix_agent.job.transition:1|c|#job_type:fix_vulnerability,result:success", line)
}

func TestClientTimingAndGauge(t *testing.T) {
	server, addr := listenUDP(t)
	client, err := NewClient(Config{Enabled: true, Address: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	client.Timing("job.duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "job.duration:1500|ms", readLine(t, server))

	client.Gauge("queue.pending", 7, nil)
	assert.Equal(t, "queue.pending:7|g", readLine(t, server))
}

func TestNormalizeMetricName(t *testing.T) {
	assert.Equal(t, "job_queue.depth", normalizeMetricName(" job queue..depth. "))
	assert.Equal(t, "", normalizeMetricName("  "))
}
