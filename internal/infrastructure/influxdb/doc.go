// Package influxdb records therapylink metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library and writes three
// measurements:
//   - delivery_events: queue activity per device serial
//   - link_state: broker connectivity changes
//   - therapy_settings: settings applied from or sent to the device
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
//	client.WriteLinkState("SN123456", true, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered through SetOnError.
package influxdb
