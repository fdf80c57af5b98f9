// Package deadletter records delivery history in SQLite.
//
// SQLiteRepository stores payloads the delivery queue gave up on, so an
// operator can inspect and resend them. Journal persists every queue
// event in the background for troubleshooting a device link.
package deadletter
