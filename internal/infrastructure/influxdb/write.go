package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDelivery = "delivery_events"
	MeasurementLink     = "link_state"
	MeasurementSettings = "therapy_settings"
)

// WriteDeliveryEvent records one delivery queue event for a device.
func (c *Client) WriteDeliveryEvent(serial, event string, attempts, pending int, at time.Time) {
	c.WritePointWithTime(MeasurementDelivery,
		map[string]string{
			"serial": serial,
			"event":  event,
		},
		map[string]interface{}{
			"attempts": attempts,
			"pending":  pending,
		},
		at,
	)
}

// WriteLinkState records a broker connectivity change.
func (c *Client) WriteLinkState(serial string, connected bool, at time.Time) {
	state := 0
	if connected {
		state = 1
	}
	c.WritePointWithTime(MeasurementLink,
		map[string]string{"serial": serial},
		map[string]interface{}{"connected": state},
		at,
	)
}

// WriteSettings records the numeric settings of one mode.
// Text-valued settings such as mask type are written as string fields.
func (c *Client) WriteSettings(serial, machine, mode string, fields map[string]interface{}, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementSettings,
		map[string]string{
			"serial":  serial,
			"machine": machine,
			"mode":    mode,
		},
		fields,
		at,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
