package util

import "time"

// TimeOperationMicroseconds runs op and returns how long it took.
func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return int64(time.Since(start) / time.Microsecond)
}
