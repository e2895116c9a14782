// Package engine mirrors local task and to-do collections to a remote
// document store.
//
// Overview
//
// Local disk is the source of truth. Every change goes through Persist,
// which writes the local file first and then, if the remote is reachable,
// uploads a snapshot of the whole collection in the background. The remote
// is a mirror: it is replaced wholesale, never patched.
//
//	collaborator ──Persist──▶ Engine ──Save──▶ store (tasks.json, todos.json)
//	                            │
//	                            ├──Probe──▶ connectivity.Monitor
//	                            │
//	                            └──upload (goroutine)──▶ cloud.Store
//	                                 List, Delete × n, Add × m
//
// Status
//
// One engine-wide Status is visible to collaborators:
//
//	Offline  remote unreachable, last upload failed, or changes waiting
//	Syncing  an upload of the newest snapshot is in flight
//	Synced   every kind is clean and nothing is in flight
//
// Persist while online moves to Syncing; a successful upload moves to
// Synced; a failed or aborted upload moves to Offline and leaves the kind
// dirty. Each Run tick probes the remote and re-uploads every dirty kind.
//
// Uploads
//
// Each Persist takes a deep snapshot and starts one upload under a new
// per-kind generation number. Uploads of one kind run one at a time. Before
// every remote call an upload checks that the monitor is still online and
// that no newer generation exists; otherwise it stops, leaving the remote
// partially replaced. Only the newest generation's completion may clear the
// dirty flag or change the status, so the last snapshot written locally is
// the one the remote converges to.
//
// When the remote implements cloud.ManifestStore, an upload marks the
// sub-collection incomplete before deleting and writes a manifest with the
// record count and content hash after the last add.
//
// Reconciliation
//
// The first successful probe runs Reconcile. It compares local and remote
// record counts per kind. Equal counts resume normal syncing. Different
// counts open a conflict, which blocks every upload until Resolve receives
// a Choice for each conflicting kind:
//
//	AdoptRemote  overwrite local with the remote snapshot
//	KeepLocal    keep local and upload it
//
// The suggested choice favours the larger side, ties going to the remote,
// and never a remote whose manifest says it is half-written. Counts are the
// only signal: two different collections of equal size do not conflict.
//
// Usage
//
//	st, _ := store.New(dataDir, logger)
//	mon := connectivity.New(remote, nil)
//	eng, _ := engine.New(st, remote, mon)
//	eng.Load()
//	go eng.Run(ctx)
//
//	tasks := eng.Collection(schema.KindTask)
//	tasks.Records = append(tasks.Records, schema.Task{Title: "Write report", Order: schema.NextOrder(tasks)})
//	if err := eng.Persist(tasks); err != nil {
//	    return err
//	}
package engine
