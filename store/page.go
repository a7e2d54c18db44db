package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/golang/geo/r3"

	"github.com/pointlake/pointlake/model"
)

// Page format:
//
//	[magic:4][version:1][encoding:1][reserved:2]
//	[nrPoints:4][nrBogus:4][payloadLen:4][crc32c:4]
//	[payload:payloadLen]
//
// The payload is nrPoints+nrBogus fixed-size point records (regular points
// first), encoded little-endian and then run through the configured payload
// encoding. The checksum covers the encoded payload bytes as stored.

const (
	pageMagic   = uint32(0x504C5047) // "GPLP" little-endian on disk
	pageVersion = uint8(1)

	pointRecordSize = 47
	pageHeaderSize  = 24
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodePoints(points, bogus []model.Point) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, (len(points)+len(bogus))*pointRecordSize))
	for _, ps := range [][]model.Point{points, bogus} {
		for i := range ps {
			encodePoint(buf, &ps[i])
		}
	}
	return buf.Bytes()
}

func encodePoint(buf *bytes.Buffer, p *model.Point) {
	var rec [pointRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(p.Position.X))
	binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(p.Position.Y))
	binary.LittleEndian.PutUint64(rec[16:], math.Float64bits(p.Position.Z))
	binary.LittleEndian.PutUint64(rec[24:], math.Float64bits(p.GpsTime))
	binary.LittleEndian.PutUint16(rec[32:], p.Intensity)
	binary.LittleEndian.PutUint16(rec[34:], p.PointSourceID)
	binary.LittleEndian.PutUint16(rec[36:], p.ColorR)
	binary.LittleEndian.PutUint16(rec[38:], p.ColorG)
	binary.LittleEndian.PutUint16(rec[40:], p.ColorB)
	rec[42] = p.ReturnNumber
	rec[43] = p.NumberOfReturns
	rec[44] = p.Classification
	rec[45] = byte(p.ScanAngleRank)
	rec[46] = p.UserData
	buf.Write(rec[:])
}

func decodePoints(data []byte, nrPoints, nrBogus int) ([]model.Point, []model.Point, error) {
	want := (nrPoints + nrBogus) * pointRecordSize
	if len(data) != want {
		return nil, nil, fmt.Errorf("payload size %d, want %d", len(data), want)
	}
	all := make([]model.Point, nrPoints+nrBogus)
	for i := range all {
		decodePoint(data[i*pointRecordSize:], &all[i])
	}
	return all[:nrPoints:nrPoints], all[nrPoints:], nil
}

func decodePoint(rec []byte, p *model.Point) {
	p.Position = r3.Vector{
		X: math.Float64frombits(binary.LittleEndian.Uint64(rec[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(rec[8:])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(rec[16:])),
	}
	p.GpsTime = math.Float64frombits(binary.LittleEndian.Uint64(rec[24:]))
	p.Intensity = binary.LittleEndian.Uint16(rec[32:])
	p.PointSourceID = binary.LittleEndian.Uint16(rec[34:])
	p.ColorR = binary.LittleEndian.Uint16(rec[36:])
	p.ColorG = binary.LittleEndian.Uint16(rec[38:])
	p.ColorB = binary.LittleEndian.Uint16(rec[40:])
	p.ReturnNumber = rec[42]
	p.NumberOfReturns = rec[43]
	p.Classification = rec[44]
	p.ScanAngleRank = int8(rec[45])
	p.UserData = rec[46]
}

func encodePageHeader(enc Encoding, nrPoints, nrBogus int, payload []byte) []byte {
	hdr := make([]byte, pageHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:], pageMagic)
	hdr[4] = pageVersion
	hdr[5] = uint8(enc)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(nrPoints))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(nrBogus))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[20:], crc32.Checksum(payload, castagnoli))
	return hdr
}

type pageHeader struct {
	encoding   Encoding
	nrPoints   int
	nrBogus    int
	payloadLen int
	checksum   uint32
}

func decodePageHeader(cell model.CellID, data []byte) (pageHeader, error) {
	if len(data) < pageHeaderSize {
		return pageHeader{}, &CorruptNodeError{Cell: cell, Reason: "page shorter than header"}
	}
	if binary.LittleEndian.Uint32(data[0:]) != pageMagic {
		return pageHeader{}, &CorruptNodeError{Cell: cell, Reason: "bad magic"}
	}
	if data[4] != pageVersion {
		return pageHeader{}, &CorruptNodeError{Cell: cell, Reason: fmt.Sprintf("unsupported page version %d", data[4])}
	}
	return pageHeader{
		encoding:   Encoding(data[5]),
		nrPoints:   int(binary.LittleEndian.Uint32(data[8:])),
		nrBogus:    int(binary.LittleEndian.Uint32(data[12:])),
		payloadLen: int(binary.LittleEndian.Uint32(data[16:])),
		checksum:   binary.LittleEndian.Uint32(data[20:]),
	}, nil
}
