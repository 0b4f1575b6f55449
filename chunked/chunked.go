/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package chunked parses HTTP-style chunked-transfer-encoded bytes,
// delivering payload-only callbacks and remembering partial chunk state
// across calls -- the data a TcpConnection's on_read callback hands it
// rarely lines up with chunk boundaries.
package chunked

import (
	"errors"
	"fmt"

	"github.com/rfyiamcool/reactor/bufiox"
	"github.com/rfyiamcool/reactor/hexcodec"
	"github.com/rfyiamcool/reactor/slab"
)

// ErrChunkTooLarge is returned when a chunk-size line decodes to a length
// this decoder refuses to buffer.
var ErrChunkTooLarge = errors.New("chunked: chunk size exceeds MaxChunkSize")

// DefaultMaxChunkSize bounds how large a single chunk's declared length may
// be, so that a corrupt or hostile size line can't make the decoder try to
// wait forever for an unbounded payload.
const DefaultMaxChunkSize = 16 << 20 // 16MiB

type decoderState int

const (
	stateSizeLine decoderState = iota // expecting a "<hex-len>[;ext]\r\n" line
	statePayload                      // draining `needed` bytes of chunk payload
	stateTrailerCRLF                  // expecting the CRLF that follows a chunk's payload
)

// Decoder holds the running state of a chunked-transfer parse across
// successive Consume calls, mirroring the original Chunked type's
// last_chunked_length/last_handled_length fields.
type Decoder struct {
	// MaxChunkSize overrides DefaultMaxChunkSize when non-zero.
	MaxChunkSize int

	// carry holds bytes left over from a previous Consume, not yet parsed.
	// It is a slab.QuickMalloc scratch buffer rather than a plain make,
	// freed back to the pool every time it's superseded or the Decoder is
	// reset -- this is exactly the "short-lived, local to one call"
	// scratch buffer QuickMalloc's doc comment describes, just stretched
	// across the one call boundary a partial chunk can straddle.
	carry    []byte
	needed   int // bytes still owed for the chunk currently in progress
	state    decoderState
	sawFinal bool // the zero-length terminating chunk was seen
}

// Reset clears all parser state, as if the Decoder were newly constructed.
func (d *Decoder) Reset() {
	if d.carry != nil {
		slab.QuickFree(d.carry)
	}
	d.carry = nil
	d.needed = 0
	d.state = stateSizeLine
	d.sawFinal = false
}

// Done reports whether the terminating zero-length chunk has been consumed.
func (d *Decoder) Done() bool {
	return d.sawFinal
}

func (d *Decoder) maxChunkSize() int {
	if d.MaxChunkSize > 0 {
		return d.MaxChunkSize
	}
	return DefaultMaxChunkSize
}

// Consume feeds newly-received bytes to the decoder. For every complete
// payload span it can extract -- possibly spanning several calls, possibly
// several per call -- it invokes emit(payload) with a slice valid only for
// the duration of the call. Bytes it cannot yet interpret (a partial
// chunk-size line, or a partial payload) are copied into carry state and
// reconsidered on the next call.
func (d *Decoder) Consume(data []byte, emit func(payload []byte)) error {
	if d.sawFinal {
		return nil
	}

	var buf []byte
	if len(d.carry) > 0 {
		buf = slab.QuickMalloc(len(d.carry) + len(data))
		n := copy(buf, d.carry)
		copy(buf[n:], data)
		slab.QuickFree(d.carry)
		d.carry = nil
		defer func() { slab.QuickFree(buf) }() // buf itself is pool-owned once carry is folded in; runs after carry (below) copies any remainder out
	} else {
		buf = data
	}

	r := bufiox.NewBytesReader(buf)

loop:
	for {
		switch d.state {
		case statePayload:
			avail := len(buf) - r.ReadLen()
			if avail == 0 {
				break loop
			}
			take := d.needed
			if take > avail {
				take = avail
			}
			p, err := r.Next(take)
			if err != nil {
				return fmt.Errorf("chunked: %w", err)
			}
			if len(p) > 0 {
				emit(p)
			}
			d.needed -= len(p)
			if d.needed == 0 {
				d.state = stateTrailerCRLF
			} else {
				break loop
			}

		case stateTrailerCRLF:
			if !skipCRLF(r) {
				// CRLF not fully available yet; retry once more data arrives.
				break loop
			}
			d.state = stateSizeLine

		case stateSizeLine:
			size, ok, err := readSizeLine(r)
			if err != nil {
				return err
			}
			if !ok {
				break loop
			}
			if size > d.maxChunkSize() {
				return ErrChunkTooLarge
			}
			if size == 0 {
				d.sawFinal = true
				break loop
			}
			d.state = statePayload
			d.needed = size
		}
	}

	if rem := buf[r.ReadLen():]; len(rem) > 0 {
		carry := slab.QuickMalloc(len(rem))
		copy(carry, rem)
		d.carry = carry
	}
	return nil
}

// readSizeLine reads a "<hex-length>\r\n" line (optional chunk extensions
// after a ';' are skipped, matching common chunked-encoding practice).
// ok is false if the buffer doesn't yet hold a full line.
func readSizeLine(r *bufiox.BytesReader) (size int, ok bool, err error) {
	start := r.ReadLen()
	for i := 0; ; i++ {
		b, perr := r.Peek(i + 1)
		if perr != nil {
			// rewind: nothing consumed yet since Peek doesn't advance
			return 0, false, nil
		}
		if b[i] == '\n' {
			line, nerr := r.Next(i + 1)
			if nerr != nil {
				return 0, false, nil
			}
			hexPart := line[:len(line)-1] // drop '\n'
			if len(hexPart) > 0 && hexPart[len(hexPart)-1] == '\r' {
				hexPart = hexPart[:len(hexPart)-1]
			}
			if semi := indexByte(hexPart, ';'); semi >= 0 {
				hexPart = hexPart[:semi]
			}
			v, herr := hexcodec.ParseUint32(string(hexPart))
			if herr != nil {
				return 0, false, fmt.Errorf("chunked: bad chunk size at offset %d: %w", start, herr)
			}
			return int(v), true, nil
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// skipCRLF consumes a trailing "\r\n" (or bare "\n") if it's fully
// buffered; returns false (consuming nothing) if it isn't yet.
func skipCRLF(r *bufiox.BytesReader) bool {
	b, err := r.Peek(1)
	if err != nil {
		return false
	}
	if b[0] == '\r' {
		if _, err := r.Peek(2); err != nil {
			return false
		}
		_, _ = r.Next(2)
		return true
	}
	_, _ = r.Next(1)
	return true
}
