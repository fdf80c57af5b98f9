// Package controller is the boundary between the settings UI and the
// sync machinery.
//
// Outbound, SubmitMode stores one mode's values, encodes the full bundle
// into a frame for the configured machine type, wraps it in an envelope
// and hands it to the delivery queue. Inbound, ApplyFrame decodes a frame
// reported by the device and merges it into the settings store. Nothing
// is stored when a frame fails to decode.
//
// A Notifier hears about applied settings, decode failures and link
// changes. The controller is itself a connection.Observer, so the
// connection manager can feed it device data directly.
package controller
