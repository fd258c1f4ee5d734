package recovery

import (
	"encoding/binary"
	"time"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

const idLength = 20

// DeriveID hashes the request's identifying content into a compact handle.
// The nonce disambiguates requests that share every other input.
func DeriveID(account, newOwner, initiator values.Address, at time.Time, nonce uint32) string {
	h := blake3.New(idLength, nil)
	for _, part := range []string{account.String(), newOwner.String(), initiator.String()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(at.UnixNano()))
	binary.BigEndian.PutUint32(buf[8:], nonce)
	h.Write(buf[:])
	return base58.Encode(h.Sum(nil))
}
