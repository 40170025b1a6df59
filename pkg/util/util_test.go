package util

import (
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/stretchr/testify/assert"
)

var _ api.WriteAPI = (*MockWriteAPI)(nil)

func TestTimeOperationMicroseconds(t *testing.T) {
	elapsed := TimeOperationMicroseconds(func() { time.Sleep(2 * time.Millisecond) })
	assert.GreaterOrEqual(t, elapsed, int64(2000))
}

func TestMockWriteAPI(t *testing.T) {
	m := &MockWriteAPI{}
	m.WritePoint(influxdb2.NewPoint("a", nil, map[string]interface{}{"v": 1}, time.Now()))
	m.WritePoint(influxdb2.NewPoint("b", nil, map[string]interface{}{"v": 2}, time.Now()))
	m.WriteRecord("a v=1")

	assert.Len(t, m.Points(), 2)
	assert.Len(t, m.PointsNamed("b"), 1)
	assert.Nil(t, m.Errors())
}
