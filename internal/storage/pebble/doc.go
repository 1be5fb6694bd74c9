// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// batches, prefix scans and minimal metrics hooks, plus a checkpoint store
// built on it.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	store := pebblestore.NewCheckpointStore(db)
//	_ = store.Save(ctx, "octo/repo", encoded)
package pebblestore
