package common

import "hash/fnv"

// Hash32 returns the 32-bit FNV-1a hash of data. Peer IDs and terminal color
// buckets are derived from identity keys this way.
func Hash32(data []byte) uint32 {
	h := fnv.New32a()

	h.Write(data)

	return h.Sum32()
}
