package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPoolBuild(t *testing.T) {
	before := testutil.ToFloat64(poolBuilds.WithLabelValues("metrics-test"))
	RecordPoolBuild("metrics-test", 42)
	assert.Equal(t, before+1, testutil.ToFloat64(poolBuilds.WithLabelValues("metrics-test")))
}

func TestRecordDropped_IgnoresZero(t *testing.T) {
	c := recordsDropped.WithLabelValues("metrics-test", "malformed")
	before := testutil.ToFloat64(c)
	RecordDropped("metrics-test", "malformed", 0)
	assert.Equal(t, before, testutil.ToFloat64(c))
	RecordDropped("metrics-test", "malformed", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(c))
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(activeSessions))
}

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.CollectAndCount(httpRequestDuration)
	ObserveHTTPRequest("GET", "/metrics-test/{id}", 200, 0)
	assert.Equal(t, before+1, testutil.CollectAndCount(httpRequestDuration))
}
