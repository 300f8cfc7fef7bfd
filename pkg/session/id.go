package session

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewID draws a positive, non-zero session id from a random UUID.
func NewID() int32 {
	for {
		u := uuid.New()
		id := int32(binary.BigEndian.Uint32(u[:4]) & 0x7fffffff)
		if id != 0 {
			return id
		}
	}
}
