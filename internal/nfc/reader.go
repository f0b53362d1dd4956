package nfc

import (
	"context"

	"github.com/iliyamo/event-admission/internal/credential"
)

// Tag is one tag presented to a reader.
type Tag struct {
	UID    string
	Record credential.TagRecord
}

// Reader is the NFC reader/writer hardware.  Read and Write block until
// a tag is presented or ctx is done; Abort cancels a pending operation.
type Reader interface {
	Read(ctx context.Context) (Tag, error)
	Write(ctx context.Context, rec credential.TagRecord) error
	Abort()
}

// Authenticator is implemented by readers that can run the tag's
// challenge-response command.
type Authenticator interface {
	Respond(ctx context.Context, challenge []byte) ([]byte, error)
}
