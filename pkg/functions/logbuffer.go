package functions

import (
	"fmt"
	"sync"
)

// LogBuffer collects output written by functions during one step execution. It is
// flushed into the step result instead of going to the process's stdout.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// Printf appends one formatted line.
func (b *LogBuffer) Printf(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

// Flush returns the collected lines and empties the buffer.
func (b *LogBuffer) Flush() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}
