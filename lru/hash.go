package lru

import "github.com/rfyiamcool/reactor/hash/xfnv"

// StringHasher hashes string keys with the same in-process FNV-1a variant
// the rest of this module uses for hash tables; pass it to New[string, V].
func StringHasher(key string) uint64 {
	return xfnv.HashStr(key)
}

// BytesHasher hashes []byte keys. Note per xfnv's own contract the
// resulting hash is process-local and must never be persisted.
func BytesHasher(key []byte) uint64 {
	return xfnv.Hash(key)
}
