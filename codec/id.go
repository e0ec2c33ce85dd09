package codec

import "github.com/google/uuid"

// NewTransferID generates a fresh, globally-unique-with-overwhelming-
// probability TransferID, grounded on the teacher's use of
// github.com/google/uuid elsewhere in the module's dependency graph.
func NewTransferID() TransferID {
	return TransferID(uuid.New())
}

// String renders the TransferID in UUID text form for logging.
func (id TransferID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id TransferID) IsZero() bool {
	return id == TransferID{}
}
