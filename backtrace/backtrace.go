// Package backtrace captures and replays goroutine call stacks, the Go
// analogue of the original backtrace_dump/backtrace_dump_save/
// backtrace_dump_load trio. Where the original walked raw frame pointers
// through libbfd to resolve file/line, runtime.Callers and
// runtime.CallersFrames do the same job without an external symbolizer --
// the binary carries its own line tables.
package backtrace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
)

// maxDepth bounds how many PCs a single Dump collects, mirroring the
// original's BACKTRACE_MAX_DEPTH.
const maxDepth = 1024

// Frame is one resolved stack frame, the Go shape of the original
// callback's (frame_no, addr, function, file, line_no) tuple.
type Frame struct {
	No       int
	PC       uintptr
	Function string
	File     string
	Line     int
}

// Dump captures and resolves the calling goroutine's current stack.
func Dump() []Frame {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(2, pcs) // skip runtime.Callers and Dump itself
	return resolve(pcs[:n])
}

func resolve(pcs []uintptr) []Frame {
	frames := make([]Frame, 0, len(pcs))
	cf := runtime.CallersFrames(pcs)
	for i := 0; ; i++ {
		f, more := cf.Next()
		frames = append(frames, Frame{
			No:       i,
			PC:       f.PC,
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
		})
		if !more {
			break
		}
	}
	return frames
}

// Fprint writes frames in a human-readable form, two lines per frame:
// "#N 0xADDR function" followed by a tab-indented "file:line".
func Fprint(w io.Writer, frames []Frame) error {
	bw := bufio.NewWriter(w)
	for _, f := range frames {
		if _, err := fmt.Fprintf(bw, "#%-2d 0x%012x %s\n\t%s:%d\n", f.No, f.PC, f.Function, f.File, f.Line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the raw PCs of frames to w, the Go equivalent of
// backtrace_dump_save writing raw void* frames to a file descriptor.
// Unlike the original, Save/Load round-trips through symbol information
// embedded in this binary, so Load only makes sense against the same
// build that produced the dump.
func Save(w io.Writer, frames []Frame) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(frames))); err != nil {
		return err
	}
	for _, f := range frames {
		if err := binary.Write(bw, binary.LittleEndian, uint64(f.PC)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads back PCs written by Save and resolves them against this
// binary's symbol table, the counterpart of backtrace_dump_load.
func Load(r io.Reader) ([]Frame, error) {
	br := bufio.NewReader(r)
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("backtrace: reading frame count: %w", err)
	}
	if count > maxDepth {
		return nil, fmt.Errorf("backtrace: frame count %d exceeds max depth %d", count, maxDepth)
	}
	pcs := make([]uintptr, count)
	for i := range pcs {
		var pc uint64
		if err := binary.Read(br, binary.LittleEndian, &pc); err != nil {
			return nil, fmt.Errorf("backtrace: reading frame %d: %w", i, err)
		}
		pcs[i] = uintptr(pc)
	}
	if len(pcs) == 0 {
		return nil, nil
	}
	return resolve(pcs), nil
}
