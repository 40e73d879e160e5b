package engine

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// obfuscator derives stable, per-epoch counterparty references. The salt is
// random per engine instance, so references cannot be reversed into order ids
// across restarts.
type obfuscator struct {
	salt []byte
}

func newObfuscator() obfuscator {
	id := uuid.New()
	return obfuscator{salt: id[:]}
}

func (o obfuscator) ref(epochID, counterpartyID string) string {
	h := blake3.New()
	_, _ = h.Write(o.salt)
	_, _ = h.Write([]byte(epochID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(counterpartyID))
	sum := h.Sum(nil)
	return "cp_" + hex.EncodeToString(sum[:8])
}
