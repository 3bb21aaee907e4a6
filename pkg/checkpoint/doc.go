// Package checkpoint persists the progress of a work queue so that an
// interrupted harvest or mirror run resumes where it stopped.
//
// A checkpoint records the item currently being processed with its next
// page offset, the number of records already durable for it, and the list of
// completed items:
//
//	{
//	  "active_item": "react",
//	  "offset": 500,
//	  "stored": 500,
//	  "completed_items": ["js", "lib"],
//	  "updated_at": "2024-05-01T10:00:00Z",
//	  "version": 1
//	}
//
// Files are replaced atomically (temp file, fsync, rename). A file that
// cannot be decoded or violates the invariants is treated as empty; the run
// then starts over, which is safe because harvesting is idempotent.
package checkpoint
