// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Message is the codec contract for call payloads. Implementations encode
// themselves in their stable wire form and must fully reset on decode.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(data []byte) error
}

type frameKind uint8

const (
	frameCall      frameKind = 1 + iota // opens a call; payload = method name
	frameMessage                        // one message on the call
	frameHalfClose                      // sender will write no more messages
	frameStatus                         // final status; payload = code + message
	frameCancel                         // abort the call
)

func (k frameKind) String() string {
	switch k {
	case frameCall:
		return "CALL"
	case frameMessage:
		return "MESSAGE"
	case frameHalfClose:
		return "HALF_CLOSE"
	case frameStatus:
		return "STATUS"
	case frameCancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

type frame struct {
	kind    frameKind
	callID  uint64
	payload []byte
}

// frameHeaderLen is kind(1) + callID(8) + payload length(4).
const frameHeaderLen = 13

// maxFramePayload bounds a single decoded payload.
const maxFramePayload = 16 << 20

type outFrame struct {
	frame
	// done runs after the frame reaches the wire (ok=true) or the
	// connection fails (ok=false). May be nil.
	done func(ok bool)
}

// wireConn frames calls over a full-duplex connection. All writes go
// through a single writer goroutine so reactor callbacks never block on
// socket I/O; each queued frame's done callback fires once the frame is
// flushed. Reads are driven by the owner's single read loop.
type wireConn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	enc *zstd.Encoder // nil when compression is off
	dec *zstd.Decoder

	mu      sync.Mutex
	cond    *sync.Cond
	outq    []outFrame
	writing bool
	closed  bool
	failed  bool
}

func newWireConn(conn net.Conn, compress bool) (*wireConn, error) {
	w := &wireConn{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
	w.cond = sync.NewCond(&w.mu)
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("cqrpc: creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("cqrpc: creating zstd decoder: %w", err)
		}
		w.enc = enc
		w.dec = dec
	}
	go w.writeLoop()
	return w, nil
}

// enqueue queues a frame for the writer goroutine. If the connection is
// already closed or failed, done fires with ok=false immediately.
func (w *wireConn) enqueue(f frame, done func(ok bool)) {
	w.mu.Lock()
	if w.closed || w.failed {
		w.mu.Unlock()
		if done != nil {
			done(false)
		}
		return
	}
	w.outq = append(w.outq, outFrame{frame: f, done: done})
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *wireConn) writeLoop() {
	for {
		w.mu.Lock()
		for len(w.outq) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.outq) == 0 && w.closed {
			w.mu.Unlock()
			_ = w.bw.Flush()
			return
		}
		batch := w.outq
		w.outq = nil
		w.writing = true
		failed := w.failed
		w.mu.Unlock()

		for _, of := range batch {
			ok := !failed
			if ok {
				if err := w.writeFrame(of.frame); err != nil {
					ok = false
					failed = true
				}
			}
			if of.done != nil {
				of.done(ok)
			}
		}
		if !failed {
			if err := w.bw.Flush(); err != nil {
				failed = true
			}
		}
		w.mu.Lock()
		if failed {
			w.failed = true
		}
		w.writing = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *wireConn) writeFrame(f frame) error {
	payload := f.payload
	if w.enc != nil && f.kind == frameMessage {
		payload = w.enc.EncodeAll(payload, nil)
	}
	if len(payload) > maxFramePayload {
		return fmt.Errorf("cqrpc: frame payload %d exceeds limit", len(payload))
	}
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(f.kind)
	binary.BigEndian.PutUint64(hdr[1:9], f.callID)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(payload)))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.bw.Write(payload)
	return err
}

// readFrame reads and decodes one frame. Only the owner's read loop may
// call it.
func (w *wireConn) readFrame() (frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(w.br, hdr[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		kind:   frameKind(hdr[0]),
		callID: binary.BigEndian.Uint64(hdr[1:9]),
	}
	n := binary.BigEndian.Uint32(hdr[9:13])
	if n > maxFramePayload {
		return frame{}, fmt.Errorf("cqrpc: frame payload %d exceeds limit", n)
	}
	if n > 0 {
		f.payload = make([]byte, n)
		if _, err := io.ReadFull(w.br, f.payload); err != nil {
			return frame{}, err
		}
	}
	if w.dec != nil && f.kind == frameMessage && len(f.payload) > 0 {
		decoded, err := w.dec.DecodeAll(f.payload, nil)
		if err != nil {
			return frame{}, fmt.Errorf("cqrpc: decompressing frame: %w", err)
		}
		f.payload = decoded
	}
	return f, nil
}

// close stops the writer after draining queued frames and closes the
// underlying connection, unblocking the owner's read loop.
func (w *wireConn) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.cond.Broadcast()
	for (len(w.outq) > 0 || w.writing) && !w.failed {
		w.cond.Wait()
	}
	w.mu.Unlock()
	_ = w.conn.Close()
}

func statusPayload(s Status) []byte {
	b := make([]byte, 4, 4+len(s.Message()))
	binary.BigEndian.PutUint32(b, uint32(s.Code()))
	return append(b, s.Message()...)
}

func parseStatusPayload(p []byte) Status {
	if len(p) < 4 {
		return NewStatus(CodeUnknown, "malformed status frame")
	}
	return NewStatus(Code(binary.BigEndian.Uint32(p[:4])), string(p[4:]))
}
