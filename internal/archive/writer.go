// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/wire"
)

// Writer appends Index/Delta/Image blocks to one archive file.
type Writer struct {
	mu         sync.Mutex
	f          *os.File
	buf        *bufio.Writer
	ix         *index
	sz         int64
	imageCodec imageCodec
}

// SetImageCodec selects the payload encoding used for future Image blocks
// (§4.5 "Avro-encoded full images"): "native" (default) or "avro". Delta and
// Index blocks are unaffected. An unrecognised value is treated as "native".
func (w *Writer) SetImageCodec(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if name == "avro" {
		w.imageCodec = codecAvro
	} else {
		w.imageCodec = codecNative
	}
}

// OpenWriter opens (creating if absent) the archive file at filename for
// appending, replaying its existing Index blocks into memory first so
// id_for_path stays consistent across restarts.
func OpenWriter(filename string) (*Writer, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, buf: bufio.NewWriter(f), ix: newIndex()}
	if err := w.replayIndex(); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w.sz = info.Size()
	return w, nil
}

func (w *Writer) replayIndex() error {
	r, err := os.Open(w.f.Name())
	if err != nil {
		return err
	}
	defer r.Close()
	br := bufio.NewReader(r)
	for {
		frame, err := wire.ReadFrame(br)
		if err != nil {
			return nil // EOF or short read: stop replaying, future blocks are new
		}
		b, err := decodeBlock(frame)
		if err != nil {
			continue
		}
		if b.kind == blockIndex {
			w.ix.adopt(b.index)
		}
	}
}

// AddPaths assigns stable ids to any of paths not already known, persisting
// an Index block for the newly assigned ones.
func (w *Writer) AddPaths(paths []path.Path) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fresh := w.ix.addPaths(paths)
	if len(fresh) == 0 {
		return nil
	}
	entries := make([]IndexEntry, len(fresh))
	for i, f := range fresh {
		p, _ := w.ix.pathFor(f.Id)
		entries[i] = IndexEntry{Id: f.Id, Path: p}
	}
	return w.writeBlockLocked(block{kind: blockIndex, index: entries})
}

// IdForPath returns the stable id for p, if AddPaths has already assigned it.
func (w *Writer) IdForPath(p path.Path) (Id, bool) {
	return w.ix.idFor(p)
}

// AddBatch appends a Delta (is_image=false) or Image (is_image=true) block.
// It returns ErrRecordTooLarge if the encoded block would exceed the frame
// size limit; the caller should split items and retry each half.
func (w *Writer) AddBatch(isImage bool, ts time.Time, items []BatchItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if isImage {
		return w.writeBlockLocked(block{kind: blockImage, ts: ts, items: items, codec: w.imageCodec})
	}
	return w.writeBlockLocked(block{kind: blockDelta, ts: ts, items: items})
}

func (w *Writer) writeBlockLocked(b block) error {
	payload, err := encodeBlock(b)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(w.buf, payload); err != nil {
		return err
	}
	w.sz += int64(4 + len(payload))
	return nil
}

// Flush pushes buffered bytes to the underlying file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Len returns the number of bytes written (including unflushed ones).
func (w *Writer) Len() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sz
}

// BlockSize is a fixed upper estimate of a typical delta block's size,
// exposed for callers (the recorder) deciding when image/flush thresholds
// have been crossed in terms of bytes written rather than block count.
func (w *Writer) BlockSize() int64 { return 64 * 1024 }

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
