package utils

import (
	"github.com/google/uuid"
)

// deliveryTagNamespace scopes lock tokens derived from non-UUID delivery tags.
var deliveryTagNamespace = uuid.MustParse("6f1e3c2a-8d4b-4f7e-9a51-0c2d7b3e5a90")

// NewMessageID generates a message id (UUID v4 string).
func NewMessageID() string {
	return uuid.New().String()
}

// LockTokenFromDeliveryTag derives a lock token from a wire delivery tag.
// Service Bus delivery tags are the 16 raw bytes of the lock token; any other
// length is mapped deterministically through a name-based UUID.
func LockTokenFromDeliveryTag(tag []byte) uuid.UUID {
	if len(tag) == 16 {
		if id, err := uuid.FromBytes(tag); err == nil {
			return id
		}
	}
	return uuid.NewSHA1(deliveryTagNamespace, tag)
}
