package index

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// StateHash digests (filepath, mtime_ns, size) into a short hex string.
// It changes iff the file would need reprocessing.
func StateHash(filepath string, mtimeNs, size int64) string {
	h := xxhash.New()
	_, _ = h.WriteString(filepath)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(mtimeNs))
	binary.LittleEndian.PutUint64(buf[8:], uint64(size))
	_, _ = h.Write(buf[:])
	return fmt.Sprintf("%016x", h.Sum64())
}
