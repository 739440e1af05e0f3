package coordinator

import (
	"fmt"
	"hash/crc32"

	"github.com/javi11/nzbqueued/internal/queue"
)

// contentHashes computes the two content fingerprints maintained per
// NzbInfo during parsing (§4.4): a CRC32 of every article's message-id and
// size in NZB order (full), and the same with par-files omitted (filtered),
// so the Duplicate Coordinator can recognize "same release, different par
// count".
func contentHashes(files []*queue.FileInfo) (full, filtered uint32) {
	fullHash := crc32.NewIEEE()
	filteredHash := crc32.NewIEEE()

	for _, f := range files {
		for _, a := range f.Articles {
			fmt.Fprintf(fullHash, "%s:%d;", a.MessageID, a.Size)
			if !f.IsParFile {
				fmt.Fprintf(filteredHash, "%s:%d;", a.MessageID, a.Size)
			}
		}
	}

	return fullHash.Sum32(), filteredHash.Sum32()
}
