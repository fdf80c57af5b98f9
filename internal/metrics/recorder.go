// Package metrics turns delivery, link and settings events into time
// series points. The InfluxDB client is the usual writer.
package metrics

import (
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/delivery"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// Writer stores points. *influxdb.Client satisfies it; its writes are
// batched and never block.
type Writer interface {
	WriteDeliveryEvent(serial, event string, attempts, pending int, at time.Time)
	WriteLinkState(serial string, connected bool, at time.Time)
	WriteSettings(serial, machine, mode string, fields map[string]interface{}, at time.Time)
}

// Recorder is a delivery.Observer and controller.Notifier that writes
// every event it sees.
type Recorder struct {
	w       Writer
	serial  func() string
	machine protocol.MachineType
	now     func() time.Time
}

// NewRecorder creates a Recorder. serial is called per point so that a
// serial learned from the device is picked up.
func NewRecorder(w Writer, machine protocol.MachineType, serial func() string) *Recorder {
	if serial == nil {
		serial = func() string { return "" }
	}
	return &Recorder{w: w, serial: serial, machine: machine, now: time.Now}
}

// OnDeliveryEvent implements delivery.Observer.
func (r *Recorder) OnDeliveryEvent(e delivery.Event) {
	at := e.At
	if at.IsZero() {
		at = r.now()
	}
	r.w.WriteDeliveryEvent(r.serial(), string(e.Type), e.Attempts, e.Pending, at)
}

// ConnectivityChanged implements controller.Notifier.
func (r *Recorder) ConnectivityChanged(connected bool) {
	r.w.WriteLinkState(r.serial(), connected, r.now())
}

// SettingsApplied implements controller.Notifier.
func (r *Recorder) SettingsApplied(b protocol.Bundle) {
	r.RecordSettings(b)
}

// DecodeFailed implements controller.Notifier. Rejected frames are not
// written.
func (r *Recorder) DecodeFailed(string, error) {}

// RecordSettings writes one point per mode of b.
func (r *Recorder) RecordSettings(b protocol.Bundle) {
	at := r.now()
	serial := r.serial()
	for _, mode := range protocol.AllModes() {
		fields := settingsFields(b[mode])
		if len(fields) == 0 {
			continue
		}
		r.w.WriteSettings(serial, string(r.machine), string(mode), fields, at)
	}
}

// settingsFields converts values into point fields. Numbers stay numeric
// so they can be graphed; enum values are written as strings.
func settingsFields(values protocol.Fields) map[string]interface{} {
	fields := make(map[string]interface{}, len(values))
	for name, v := range values {
		if n, ok := v.Float(); ok {
			fields[name] = n
			continue
		}
		fields[name] = v.String()
	}
	return fields
}
