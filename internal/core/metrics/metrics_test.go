package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
)

func TestMetrics_Record(t *testing.T) {
	m := NewIsolated("test")

	m.Dial("ok")
	m.Dial("ok")
	m.Dial("unreachable")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Dials.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dials.WithLabelValues("unreachable")))

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))

	m.StreamTraffic(DirOut, "/lumos/kad/1.0.0", 100)
	m.StreamTraffic(DirOut, "/lumos/kad/1.0.0", 0)
	assert.Equal(t, 100.0, testutil.ToFloat64(m.StreamBytes.WithLabelValues(DirOut, "/lumos/kad/1.0.0")))

	m.DHTRequest("FIND_NODE", nil)
	m.DHTRequest("FIND_NODE", errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DHTRequests.WithLabelValues("FIND_NODE", "error")))

	m.MemoryQuery("distributed", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryQueries.WithLabelValues("distributed", "incomplete")))

	m.Lookup("find_peer", "done", 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.LookupDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Dial("ok")
		m.ConnOpened()
		m.ConnClosed()
		m.StreamTraffic(DirIn, "p", 1)
		m.DHTRequest("PING", nil)
		m.Lookup("k", "s", time.Second)
		m.SetProviderRecords(1)
		m.PubSub("published")
		m.Content("put")
		m.MemoryQuery("local", false)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a := NewIsolated("lumos")
	b := NewIsolated("lumos")
	a.Content("put")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ContentOps.WithLabelValues("put")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ContentOps.WithLabelValues("put")))
}

func TestProvideMetrics(t *testing.T) {
	cfg := config.NewConfig()
	require.NotNil(t, ProvideMetrics(Params{Config: cfg}))

	cfg.Metrics.Enable = false
	assert.Nil(t, ProvideMetrics(Params{Config: cfg}))
}
