package transport

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// GroupMagic derives the 32-bit group discriminator carried in every packet
// header from the group's name: the first four bytes of BLAKE2b-256(name).
func GroupMagic(groupName string) int32 {
	sum := blake2b.Sum256([]byte(groupName))
	return int32(binary.BigEndian.Uint32(sum[:4]))
}
