package primitives

// Offset is a byte offset into the log file. The spec calls this the
// "start offset" of a record; it doubles as that record's address for
// backward scanning and for the live-transaction table.
type Offset int64

// NoCheckpoint is the checkpoint-pointer value written when no checkpoint
// has ever been taken.
const NoCheckpoint Offset = -1

// HeaderSize is the width, in bytes, of the leading checkpoint pointer.
const HeaderSize = 8
