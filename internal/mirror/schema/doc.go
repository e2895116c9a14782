// Package schema defines the records that taskmirror keeps on local disk and
// mirrors to a remote document store.
//
// # Kinds
//
// Two record kinds exist, each stored as one ordered collection:
//
//	tasks  → Task  {title, deadline, completed, priority, order}
//	todos  → Todo  {title, status}
//
// # Identity
//
// Records carry no identifier that survives a round trip through the remote
// store. A collection is compared by position and value only, and every sync
// replaces a whole collection rather than individual records.
//
// # Files
//
// Each kind is serialized as a JSON array in {data_dir}/{kind}.json:
//
//	[
//	  {
//	    "title": "Math assignment",
//	    "deadline": "02-02-2026",
//	    "completed": false,
//	    "priority": true,
//	    "order": 0
//	  }
//	]
//
// # Ordering
//
// Tasks are kept priority-first, then by ascending Order. Order is assigned
// once at creation (see NextOrder) and never renumbered, so deleting a task
// leaves a gap.
package schema
