package download

import (
	"io"
)

// Request describes an inbound transfer announced by the rendering
// collaborator before any bytes move.
type Request struct {
	FileName     string
	SourceURL    string
	DeclaredType string
	// TotalBytes is the declared size, -1 when unknown.
	TotalBytes int64
}

// Sink receives transfer lifecycle events from a Source. The gate implements
// Sink; returning an error from TransferStarting cancels the transfer before
// any bytes are persisted.
type Sink interface {
	// TransferStarting validates a new transfer. On acceptance it returns
	// the download id and a writer for the transfer bytes.
	TransferStarting(req Request) (id string, w io.WriteCloser, err error)
	// TransferCompleted signals that all bytes were delivered.
	TransferCompleted(id string)
	// TransferFailed signals that the transfer broke mid-flight.
	TransferFailed(id string, cause error)
}

// Source is a download-event source, typically the rendering engine's
// download manager. Attach binds a sink; Detach unbinds it during teardown.
type Source interface {
	Attach(Sink)
	Detach()
}
