package history

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint computes the deterministic hash summarizing a set of active,
// non-deleted message revisions. The set is sorted by OriginalCreatedAt with
// MessageID as tie-break, then each revision contributes
// "messageID|content|role" to a single SHA-256. Hashing content identity
// rather than revision identity makes the fingerprint a statement about what
// the conversation says: restoring a past snapshot yields new revision rows
// whose state nevertheless fingerprints identically to the restored target.
//
// The input slice is not modified.
func Fingerprint(revisions []MessageRevision) string {
	ordered := make([]MessageRevision, len(revisions))
	copy(ordered, revisions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OriginalCreatedAt != ordered[j].OriginalCreatedAt {
			return ordered[i].OriginalCreatedAt < ordered[j].OriginalCreatedAt
		}
		return ordered[i].MessageID < ordered[j].MessageID
	})

	h := sha256.New()
	for _, rev := range ordered {
		h.Write([]byte(rev.MessageID))
		h.Write([]byte{'|'})
		h.Write([]byte(rev.Content))
		h.Write([]byte{'|'})
		h.Write([]byte(rev.Role))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
