package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues a point stamped with the current time. It is
// non-blocking; points are batched and failures reach the SetOnError
// callback.
//
// Example:
//
//	client.WritePoint("lutron_bridge",
//	    map[string]string{"bridge_id": "main-hub"},
//	    map[string]any{"online": 1, "queue_depth": 0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point with an explicit timestamp, used for
// status transitions recorded after the fact.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
