// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pubconn

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/nhr-fau/netpub/internal/token"
	"github.com/nhr-fau/netpub/internal/value"
	"github.com/nhr-fau/netpub/internal/wire"
)

const (
	tagSubscribe    byte = 1
	tagSubscribed   byte = 2
	tagNoSuchValue  byte = 3
	tagUnsubscribe  byte = 4
	tagUnsubscribed byte = 5
	tagUpdate       byte = 6
	tagWrite        byte = 7
	tagWriteAck     byte = 8
	tagFlushMarker  byte = 9
	tagFlushAck     byte = 10
	tagHeartbeat    byte = 11
)

type subscribedMsg struct {
	req  uint64
	id   Id
	last value.Value
}

type noSuchValueMsg struct{ req uint64 }

type updateMsg struct {
	id  Id
	val value.Value
}

type unsubscribedMsg struct{ id Id }

func putStr(buf []byte, s string) []byte {
	buf = wire.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func writeSubscribe(w *bufio.Writer, req uint64, path string, tok token.Opaque, resolver string, flags Flags) error {
	var buf []byte
	buf = append(buf, tagSubscribe)
	buf = wire.PutUvarint(buf, req)
	buf = putStr(buf, path)
	buf = putStr(buf, string(tok))
	buf = putStr(buf, resolver)
	buf = append(buf, byte(flags))
	return wire.WriteFrame(w, buf)
}

func writeUnsubscribe(w *bufio.Writer, id Id) error {
	var buf []byte
	buf = append(buf, tagUnsubscribe)
	buf = wire.PutUvarint(buf, uint64(id))
	return wire.WriteFrame(w, buf)
}

func writeWrite(w *bufio.Writer, id Id, v value.Value, wantAck bool) error {
	var buf []byte
	buf = append(buf, tagWrite)
	buf = wire.PutUvarint(buf, uint64(id))
	if wantAck {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = value.Encode(buf, v)
	return wire.WriteFrame(w, buf)
}

func writeFlushMarker(w *bufio.Writer) error {
	return wire.WriteFrame(w, []byte{tagFlushMarker})
}

func writeHeartbeat(w *bufio.Writer) error {
	return wire.WriteFrame(w, []byte{tagHeartbeat})
}

// readLoop reads frames off nc and decodes them into the dispatch union
// types, pushing them to out. It owns no shared state: only run's goroutine
// reads from out, so no locking is needed here.
func (c *Conn) readLoop(nc net.Conn, out chan<- any, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	r := bufio.NewReader(nc)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		if len(frame) == 0 {
			continue
		}
		msg, err := decodeFrame(frame)
		if err != nil {
			continue
		}
		if msg == nil {
			continue // heartbeat / flush-ack carry no payload worth dispatching
		}
		select {
		case out <- msg:
		case <-c.done:
			return
		}
	}
}

func decodeFrame(frame []byte) (any, error) {
	r := &byteCursor{b: frame, i: 1}
	switch frame[0] {
	case tagSubscribed:
		req, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		id, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		br := bufio.NewReader(bytesReaderAt(r))
		v, err := value.Decode(br)
		if err != nil {
			return nil, err
		}
		return subscribedMsg{req: req, id: Id(id), last: v}, nil
	case tagNoSuchValue:
		req, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		return noSuchValueMsg{req: req}, nil
	case tagUpdate:
		id, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		br := bufio.NewReader(bytesReaderAt(r))
		v, err := value.Decode(br)
		if err != nil {
			return nil, err
		}
		return updateMsg{id: Id(id), val: v}, nil
	case tagUnsubscribed:
		id, err := wire.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		return unsubscribedMsg{id: Id(id)}, nil
	case tagHeartbeat, tagFlushAck, tagWriteAck:
		return nil, nil
	default:
		return nil, fmt.Errorf("pubconn: unknown tag %d", frame[0])
	}
}

// byteCursor adapts a byte slice to io.ByteReader for wire.ReadUvarint.
type byteCursor struct {
	b []byte
	i int
}

func (c *byteCursor) ReadByte() (byte, error) {
	if c.i >= len(c.b) {
		return 0, fmt.Errorf("pubconn: short frame")
	}
	b := c.b[c.i]
	c.i++
	return b, nil
}

func bytesReaderAt(c *byteCursor) io.Reader {
	return &byteSliceReader{b: c.b, i: c.i}
}

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
