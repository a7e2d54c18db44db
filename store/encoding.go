package store

import "fmt"

// Encoding selects the page payload encoding. It is fixed at index
// creation time; pages written with one encoding are unreadable by a store
// configured with another.
type Encoding uint8

const (
	// EncodingRaw stores point records uncompressed.
	EncodingRaw Encoding = iota
	// EncodingZstd compresses the payload with zstd.
	EncodingZstd
	// EncodingLZ4 compresses the payload with the LZ4 frame format.
	EncodingLZ4
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingZstd:
		return "zstd"
	case EncodingLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// ParseEncoding maps the stable names back to an Encoding. It is the only
// place where encodings are selected by string; everything past the config
// boundary uses the typed constant.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "raw", "":
		return EncodingRaw, nil
	case "zstd":
		return EncodingZstd, nil
	case "lz4":
		return EncodingLZ4, nil
	default:
		return 0, fmt.Errorf("unknown page encoding %q", s)
	}
}
