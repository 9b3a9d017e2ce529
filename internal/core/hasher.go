package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "ParamLedger:genesis:v1"

// StateHasher holds the tip of the state hash chain. Each applied command
// extends it:
//
//	state_hash[N] = SHA-256(state_hash[N-1] || LE64(N) || digest[N])
//
// with state_hash[0] = GenesisHash().
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// GenesisHash is the chain tip before sequence 1.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash extends the chain with one command and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	h.tip = ChainHash(h.tip, sequence, stateDigest)
	return h.tip
}

// ChainHash computes one link without touching any hasher; integrity
// checks use it to re-verify a stored chain.
func ChainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	buf := make([]byte, 0, len(prev)+8+len(stateDigest))
	buf = append(buf, prev[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, stateDigest...)
	return sha256.Sum256(buf)
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}

// SetPrevHash resets the tip when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.tip = hash
}
