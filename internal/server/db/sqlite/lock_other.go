//go:build !unix

package sqlite

import "os"

func acquireLock(string) (*os.File, error) { return nil, nil }

func releaseLock(*os.File) error { return nil }
