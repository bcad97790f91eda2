// Package download implements the quarantine gate for inbound file
// transfers.
//
// Every download lands in a per-session quarantine directory, never directly
// in user-visible storage. Transfers are validated before any bytes persist,
// hashed on completion, and marked with their network origin. A quarantined
// file leaves the gate only through an explicit promote (atomic move to a
// user-chosen destination) or delete (secure erase); undecided downloads are
// destroyed when the gate shuts down with the session.
package download
