package sa

import "github.com/google/uuid"

// UUIDGenerator implements upload.IDGenerator and any other collaborator
// that needs an opaque 128-bit row identifier.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}
