// Package atomiccount provides a JSON-marshalable atomic counter for values
// that are read far more often than they're written. No other package in
// this module imports it.
package atomiccount

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
)

// Count is an int64 counter safe for concurrent use that marshals as a bare
// JSON number, the way resource stat fields are expected to appear on the
// wire (RESOURCES_EXTANT / RESOURCES_UPDATE payloads).
type Count struct {
	n int64
}

var _ json.Marshaler = (*Count)(nil)

func (c *Count) Add(n int64) {
	atomic.AddInt64(&c.n, n)
}

func (c *Count) Int64() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *Count) String() string {
	return strconv.FormatInt(c.Int64(), 10)
}

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Int64())
}
