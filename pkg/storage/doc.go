// Package storage manages the staging directory media files are written to.
//
// The storage package handles:
//   - Building contained file paths of the form <post_id>_<index>.<ext>
//   - Streaming downloads into temporary files while hashing them
//   - Committing staged files with an atomic rename
//   - Removing partial files left behind by an interrupted run
//
// Usage:
//
//	manager, err := storage.NewManager("staging")
//	if err != nil {
//	    return err
//	}
//
//	path, err := manager.SafePath("1790000000000000000", 0, "jpg")
//	if err != nil {
//	    return err // never fetch an item whose path escapes the staging root
//	}
//
//	staged, err := manager.Stage(resp.Body, 0)
//	if err != nil {
//	    return err
//	}
//	return manager.Commit(staged, path)
package storage
