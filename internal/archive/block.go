// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/nhr-fau/netpub/internal/archive/avroimage"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/value"
	"github.com/nhr-fau/netpub/internal/wire"
)

// imageCodec selects the payload encoding used for Image blocks only
// (§4.5 "Avro-encoded full images"); Delta and Index blocks are always
// native. codecNative reproduces the original single-format encoding
// byte-for-byte; codecAvro routes the (Id, Event) pairs through
// internal/archive/avroimage instead.
type imageCodec byte

const (
	codecNative imageCodec = 0
	codecAvro   imageCodec = 1
)

// blockKind tags the three block variants of §4.5/§6.
type blockKind byte

const (
	blockIndex blockKind = 1
	blockDelta blockKind = 2
	blockImage blockKind = 3
)

// block is one decoded [u32 length][payload] record of the archive file.
type block struct {
	kind  blockKind
	ts    time.Time // zero for blockIndex
	items []BatchItem
	index []IndexEntry // populated only for blockIndex
	codec imageCodec   // meaningful only for blockImage
}

// maxBlockBytes mirrors the 4 GiB frame ceiling wire.WriteFrame enforces;
// encodeBlock stops early and reports ErrRecordTooLarge instead of building
// an oversized buffer first. A var, not a const, so tests can shrink it
// without recording gigabytes of fixture data.
var maxBlockBytes uint64 = 0xFFFFFFFF

func encodeTimestamp(buf []byte, t time.Time) []byte {
	var tmp [12]byte
	binary.BigEndian.PutUint64(tmp[:8], uint64(t.Unix()))
	binary.BigEndian.PutUint32(tmp[8:], uint32(t.Nanosecond()))
	return append(buf, tmp[:]...)
}

func decodeTimestamp(r *bufio.Reader) (time.Time, error) {
	var tmp [12]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return time.Time{}, err
	}
	sec := int64(binary.BigEndian.Uint64(tmp[:8]))
	nsec := int64(binary.BigEndian.Uint32(tmp[8:]))
	return time.Unix(sec, nsec).UTC(), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// encodeBlock serializes b into its wire payload (without the outer
// wire.WriteFrame length prefix, which the writer adds). It returns
// ErrRecordTooLarge if the result would not fit the frame's u32 length.
func encodeBlock(b block) ([]byte, error) {
	buf := []byte{byte(b.kind)}
	switch b.kind {
	case blockIndex:
		buf = wire.PutUvarint(buf, uint64(len(b.index)))
		for _, e := range b.index {
			buf = wire.PutUvarint(buf, uint64(e.Id))
			buf = putStr(buf, string(e.Path))
			if uint64(len(buf)) > maxBlockBytes {
				return nil, ErrRecordTooLarge
			}
		}
	case blockDelta:
		buf = encodeTimestamp(buf, b.ts)
		buf = wire.PutUvarint(buf, uint64(len(b.items)))
		for _, it := range b.items {
			buf = wire.PutUvarint(buf, uint64(it.Id))
			buf = value.Encode(buf, it.Event)
			if uint64(len(buf)) > maxBlockBytes {
				return nil, ErrRecordTooLarge
			}
		}
	case blockImage:
		buf = append(buf, byte(b.codec))
		buf = encodeTimestamp(buf, b.ts)
		switch b.codec {
		case codecAvro:
			items := make([]avroimage.Item, len(b.items))
			for i, it := range b.items {
				items[i] = avroimage.Item{Id: uint64(it.Id), Value: value.Encode(nil, it.Event)}
			}
			payload, err := avroimage.Encode(items)
			if err != nil {
				return nil, err
			}
			buf = append(buf, payload...)
			if uint64(len(buf)) > maxBlockBytes {
				return nil, ErrRecordTooLarge
			}
		default:
			buf = wire.PutUvarint(buf, uint64(len(b.items)))
			for _, it := range b.items {
				buf = wire.PutUvarint(buf, uint64(it.Id))
				buf = value.Encode(buf, it.Event)
				if uint64(len(buf)) > maxBlockBytes {
					return nil, ErrRecordTooLarge
				}
			}
		}
	default:
		return nil, fmt.Errorf("archive: unknown block kind %d", b.kind)
	}
	return buf, nil
}

func putStr(buf []byte, s string) []byte {
	buf = wire.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func decodeBlock(frame []byte) (block, error) {
	if len(frame) == 0 {
		return block{}, fmt.Errorf("archive: empty block")
	}
	r := bufio.NewReader(byteReader(frame[1:]))
	switch blockKind(frame[0]) {
	case blockIndex:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return block{}, err
		}
		entries := make([]IndexEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			id, err := wire.ReadUvarint(r)
			if err != nil {
				return block{}, err
			}
			s, err := readStr(r)
			if err != nil {
				return block{}, err
			}
			entries = append(entries, IndexEntry{Id: Id(id), Path: path.Path(s)})
		}
		return block{kind: blockIndex, index: entries}, nil
	case blockDelta:
		ts, err := decodeTimestamp(r)
		if err != nil {
			return block{}, err
		}
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return block{}, err
		}
		items := make([]BatchItem, 0, n)
		for i := uint64(0); i < n; i++ {
			id, err := wire.ReadUvarint(r)
			if err != nil {
				return block{}, err
			}
			v, err := value.Decode(r)
			if err != nil {
				return block{}, err
			}
			items = append(items, BatchItem{Id: Id(id), Event: v})
		}
		return block{kind: blockDelta, ts: ts, items: items}, nil
	case blockImage:
		codecByte, err := r.ReadByte()
		if err != nil {
			return block{}, err
		}
		codec := imageCodec(codecByte)
		ts, err := decodeTimestamp(r)
		if err != nil {
			return block{}, err
		}
		if codec == codecAvro {
			rest, err := io.ReadAll(r)
			if err != nil {
				return block{}, err
			}
			avroItems, err := avroimage.Decode(rest)
			if err != nil {
				return block{}, err
			}
			items := make([]BatchItem, 0, len(avroItems))
			for _, ai := range avroItems {
				v, err := value.Decode(bufio.NewReader(byteReader(ai.Value)))
				if err != nil {
					return block{}, err
				}
				items = append(items, BatchItem{Id: Id(ai.Id), Event: v})
			}
			return block{kind: blockImage, ts: ts, items: items, codec: codec}, nil
		}
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return block{}, err
		}
		items := make([]BatchItem, 0, n)
		for i := uint64(0); i < n; i++ {
			id, err := wire.ReadUvarint(r)
			if err != nil {
				return block{}, err
			}
			v, err := value.Decode(r)
			if err != nil {
				return block{}, err
			}
			items = append(items, BatchItem{Id: Id(id), Event: v})
		}
		return block{kind: blockImage, ts: ts, items: items, codec: codec}, nil
	default:
		return block{}, fmt.Errorf("archive: unknown block kind %d", frame[0])
	}
}

func readStr(r *bufio.Reader) (string, error) {
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

type byteReaderType struct {
	b []byte
	i int
}

func byteReader(b []byte) *byteReaderType { return &byteReaderType{b: b} }

func (r *byteReaderType) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
