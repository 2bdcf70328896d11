package song

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding identifies how a metadata file is stored on disk.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingUTF8BOM     Encoding = "utf-8-bom"
	EncodingWindows1252 Encoding = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func detectEncoding(data []byte) Encoding {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return EncodingUTF8BOM
	case utf8.Valid(data):
		return EncodingUTF8
	default:
		return EncodingWindows1252
	}
}

func codec(enc Encoding) encoding.Encoding {
	switch enc {
	case EncodingUTF8BOM:
		return unicode.UTF8BOM
	case EncodingWindows1252:
		return charmap.Windows1252
	default:
		return unicode.UTF8
	}
}

func decode(data []byte) (string, Encoding, error) {
	enc := detectEncoding(data)
	text, err := codec(enc).NewDecoder().Bytes(data)
	if err != nil {
		return "", enc, fmt.Errorf("decode %s: %w", enc, err)
	}
	return string(text), enc, nil
}

// encode renders text in enc. Text a legacy code page cannot represent is
// written as UTF-8 and the returned encoding says so.
func encode(text string, enc Encoding) ([]byte, Encoding, error) {
	data, err := codec(enc).NewEncoder().Bytes([]byte(text))
	if err == nil {
		return data, enc, nil
	}
	if enc != EncodingWindows1252 {
		return nil, enc, fmt.Errorf("encode %s: %w", enc, err)
	}
	return []byte(text), EncodingUTF8, nil
}
