package core

import (
	"FXSwapLedger/internal/store"
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "FXSwapLedger:genesis:v1"

// GenesisHash is the prev_hash of sequence 1.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func ComputeHash(prevHash [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// StateDigest hashes a write set. Writes arrive sorted by key, so equal
// write sets digest equally.
func StateDigest(writes []store.Write) []byte {
	hasher := sha256.New()
	var lenBuf [8]byte
	for _, w := range writes {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(w.Key)))
		hasher.Write(lenBuf[:])
		hasher.Write([]byte(w.Key))
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(w.Value)))
		hasher.Write(lenBuf[:])
		hasher.Write(w.Value)
	}
	return hasher.Sum(nil)
}
