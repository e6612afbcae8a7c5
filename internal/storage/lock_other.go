//go:build !unix

package storage

import "os"

// No advisory locking; a single process appends at a time.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
