//go:build logless

package logger

import "github.com/rs/zerolog"

// Logless builds keep the same zerolog surface but discard every event.
var Log = zerolog.Nop()
