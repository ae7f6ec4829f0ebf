package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. The write is non-blocking; failures arrive
// on the SetOnError callback. Dropped silently when disconnected.
//
// Example:
//
//	client.WritePoint("fpf_energy",
//	    map[string]string{"deployment_id": "fpf-001"},
//	    map[string]any{"battery_wh": 6400.0, "consumption_w": 850.0},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
