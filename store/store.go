package store

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pointlake/pointlake/model"
)

// PageStore reads and writes node pages under a root directory.
//
// It is safe for concurrent use: distinct nodes map to distinct files, and
// writes to the same node are expected to be serialized by the caller (the
// page cache holds an exclusive lock per node while flushing).
type PageStore struct {
	root     string
	encoding Encoding

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewPageStore opens a page store rooted at dir, creating the directory if
// needed.
func NewPageStore(dir string, encoding Encoding) (*PageStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create page directory: %w", err)
	}
	s := &PageStore{root: dir, encoding: encoding}
	if encoding == EncodingZstd {
		var err error
		s.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.zdec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}
	return s, nil
}

// Encoding returns the payload encoding the store was opened with.
func (s *PageStore) Encoding() Encoding { return s.encoding }

// Root returns the page directory.
func (s *PageStore) Root() string { return s.root }

func (s *PageStore) pagePath(id model.CellID) string {
	return filepath.Join(s.root, id.String()+".page")
}

// WriteNode encodes and persists the node. The page is written to a temp
// file and renamed into place so a crashed writer never leaves a torn page.
func (s *PageStore) WriteNode(id model.CellID, n *Node) error {
	raw := encodePoints(n.Points, n.Bogus)
	payload, err := s.compress(raw)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", id, err)
	}
	hdr := encodePageHeader(s.encoding, len(n.Points), len(n.Bogus), payload)

	path := s.pagePath(id)
	tmp, err := os.CreateTemp(s.root, id.String()+".tmp-*")
	if err != nil {
		return fmt.Errorf("write node %s: %w", id, err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(hdr); err == nil {
		_, err = tmp.Write(payload)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write node %s: %w", id, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write node %s: %w", id, err)
	}
	return nil
}

// ReadNode loads and decodes the node's page. It returns ErrNodeNotFound
// if no page exists, and *CorruptNodeError if the page fails validation.
func (s *PageStore) ReadNode(id model.CellID) (*Node, error) {
	data, err := os.ReadFile(s.pagePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
		}
		return nil, fmt.Errorf("read node %s: %w", id, err)
	}

	hdr, err := decodePageHeader(id, data)
	if err != nil {
		return nil, err
	}
	if hdr.encoding != s.encoding {
		return nil, &CorruptNodeError{
			Cell:   id,
			Reason: fmt.Sprintf("page encoding %s, store configured for %s", hdr.encoding, s.encoding),
		}
	}
	payload := data[pageHeaderSize:]
	if len(payload) != hdr.payloadLen {
		return nil, &CorruptNodeError{Cell: id, Reason: "truncated payload"}
	}
	if crc32.Checksum(payload, castagnoli) != hdr.checksum {
		return nil, &CorruptNodeError{Cell: id, Reason: "checksum mismatch"}
	}

	raw, err := s.decompress(payload)
	if err != nil {
		return nil, &CorruptNodeError{Cell: id, Reason: "payload decode failed", cause: err}
	}
	points, bogus, err := decodePoints(raw, hdr.nrPoints, hdr.nrBogus)
	if err != nil {
		return nil, &CorruptNodeError{Cell: id, Reason: err.Error()}
	}
	return &Node{Points: points, Bogus: bogus}, nil
}

// Remove deletes the node's page. Removing a non-existent page is not an
// error.
func (s *PageStore) Remove(id model.CellID) error {
	if err := os.Remove(s.pagePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove node %s: %w", id, err)
	}
	return nil
}

func (s *PageStore) compress(raw []byte) ([]byte, error) {
	switch s.encoding {
	case EncodingRaw:
		return raw, nil
	case EncodingZstd:
		return s.zenc.EncodeAll(raw, nil), nil
	case EncodingLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown page encoding %s", s.encoding)
	}
}

func (s *PageStore) decompress(payload []byte) ([]byte, error) {
	switch s.encoding {
	case EncodingRaw:
		return payload, nil
	case EncodingZstd:
		return s.zdec.DecodeAll(payload, nil)
	case EncodingLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("unknown page encoding %s", s.encoding)
	}
}
