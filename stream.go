package sevenzip

import (
	"bufio"
	"bytes"
	"io"

	"github.com/go7z/sevenzip/internal/stream"
)

// EntryView is one entry yielded by an [EntryIterator]: the entry's header
// plus a reader over its decoded content.
type EntryView struct {
	*File
	io.Reader
}

// Skip discards the remainder of the entry's content without buffering it
// all in memory.
func (v *EntryView) Skip() error {
	_, err := io.Copy(io.Discard, v.Reader)

	return err
}

// EntryIterator yields archive entries in order, reusing one decoder per
// solid folder and bounding how much of an entry it buffers ahead of the
// caller.
type EntryIterator struct {
	z    *Reader
	cfg  stream.Config
	idx  int
	prev io.Closer
}

// Entries returns an [EntryIterator] over z's files in archive order. A nil
// cfg uses [stream.Default].
func (z *Reader) Entries(cfg *stream.Config) *EntryIterator {
	c := stream.Default()
	if cfg != nil {
		c = *cfg
	}

	return &EntryIterator{z: z, cfg: c}
}

// Next returns the next entry, or io.EOF once every entry has been
// visited. Next first closes the previous EntryView's reader, which hands a
// solid folder's decoder back to the folder's pool so the next entry
// continues on it, seeking forward past any bytes left unread. The previous
// reader can't be read after Next is called.
func (it *EntryIterator) Next() (*EntryView, error) {
	if it.prev != nil {
		err := it.prev.Close()
		it.prev = nil

		if err != nil {
			return nil, err
		}
	}

	if it.idx >= len(it.z.File) {
		return nil, io.EOF
	}

	f := it.z.File[it.idx]
	it.idx++

	if f.isEmptyStream || f.isEmptyFile {
		return &EntryView{File: f, Reader: bytes.NewReader(nil)}, nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}

	it.prev = rc

	return &EntryView{File: f, Reader: bufio.NewReaderSize(rc, it.cfg.ReadBufferSize)}, nil
}
