package goid

import (
	"bytes"
	"runtime"
)

var goroutinePrefix = []byte("goroutine ")

// GetGID returns the id of the calling goroutine, parsed from the header
// line of its stack trace ("goroutine 123 [running]:"). Returns 0 if the
// header cannot be parsed.
func GetGID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], goroutinePrefix)
	var id uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
