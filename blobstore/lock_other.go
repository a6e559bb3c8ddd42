//go:build !unix

package blobstore

import "os"

// Non-unix platforms rely on the atomic rename alone.
func flock(*os.File) error { return nil }

func funlock(*os.File) error { return nil }
