package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// MockWriteAPI stands in for an influx writer when none is configured. It
// keeps the points it was handed so tests can inspect them.
type MockWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	records []string
}

// WriteRecord stores a line protocol record.
func (m *MockWriteAPI) WriteRecord(line string) {
	m.mu.Lock()
	m.records = append(m.records, line)
	m.mu.Unlock()
}

// WritePoint stores a point.
func (m *MockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	m.points = append(m.points, point)
	m.mu.Unlock()
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

// Errors never yields; a nil channel blocks forever on receive.
func (m *MockWriteAPI) Errors() <-chan error { return nil }

func (m *MockWriteAPI) Points() []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*write.Point(nil), m.points...)
}

// PointsNamed returns the stored points of one measurement.
func (m *MockWriteAPI) PointsNamed(name string) []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*write.Point
	for _, p := range m.points {
		if p.Name() == name {
			ret = append(ret, p)
		}
	}
	return ret
}
