// meta/meta.go
package meta

import "time"

// BOARD_SIZE is the width and height of the whole board in squares.
const BOARD_SIZE = 8000

// SUB_BOARD_SIZE is the side of a single chessboard inside the grid.
const SUB_BOARD_SIZE = 8

// VIEWPORT_LENGTH is the side of the square window the server streams to a client.
const VIEWPORT_LENGTH = 95

// MAX_MOVE_DISTANCE is the longest Chebyshev distance any piece may travel in one move.
const MAX_MOVE_DISTANCE = 12

// MAX_TOKEN is the largest move token before it wraps back to 1.
const MAX_TOKEN = 65535

// MAX_CONNECTIONS caps simultaneous open connections per client class.
const MAX_CONNECTIONS = 4

// MOVE_TIMEOUT bounds how long a move waits for its acknowledgement.
const MOVE_TIMEOUT = 5 * time.Second

// VIEW_TIMEOUT bounds how long a view move waits for the next snapshot.
const VIEW_TIMEOUT = 4 * MOVE_TIMEOUT

// ZSTD_MAGIC prefixes every compressed server frame.
var ZSTD_MAGIC = [4]byte{0x28, 0xb5, 0x2f, 0xfd}
