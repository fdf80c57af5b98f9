// Package mailbox persists outbound payloads that the device has not yet
// acknowledged.
//
// The mailbox is a single JSON array of strings, indent-formatted, kept in
// one file. Every mutation rewrites the whole file through a temp file and
// rename, so a crash mid-write leaves the previous content intact.
//
// A file that cannot be parsed is moved aside to "<path>.corrupt" and the
// mailbox starts empty. This never fails the caller; the event is logged
// as a warning.
//
// The mailbox stores payloads verbatim and never inspects them.
package mailbox
