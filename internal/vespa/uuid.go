package vespa

import (
	"fmt"

	"github.com/google/uuid"
)

var chunkNamespace = uuid.NameSpaceX500

// ChunkUUID derives the stable engine id for a chunk. It depends only on the
// document id and chunk id, so re-indexing overwrites records in place.
func ChunkUUID(documentID string, chunkID int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s__%d", documentID, chunkID)))
}
