package fat32

import (
	"io"
	"log"
)

// Logger receives a DEBUG-level trace of cluster allocation and release
// (Fat.Alloc, Fat.Free), directory entry creation and erasure, and Format.
// Individual FAT entry writes and slot writes are not traced. It defaults to discarding everything; callers that want a trace redirect its
// output (the CLI does this when run with -v).
var Logger = log.New(io.Discard, "fat32: ", log.LstdFlags)
