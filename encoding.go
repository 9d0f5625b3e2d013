package odbx

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// wideUTF16 is the default codec for the wide character class. ODBC wide
// buffers are UTF-16 in the driver manager's byte order; little-endian
// in practice everywhere this package runs.
var wideUTF16 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// textCodecs holds the connection's per-class text conversion
// configuration: one codec for the narrow character class (SQL_CHAR,
// SQL_VARCHAR, SQL_LONGVARCHAR) and one for the wide class (SQL_WCHAR,
// SQL_WVARCHAR, SQL_WLONGVARCHAR). A nil entry means the class default:
// UTF-8 passthrough for narrow, UTF-16LE for wide.
type textCodecs struct {
	narrow encoding.Encoding
	wide   encoding.Encoding
}

// resolveEncoding maps an encoding name to a codec. Names are resolved
// through the IANA registry, with the UTF forms special-cased since the
// native buffers use them directly.
func resolveEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "utf-8", "utf8", "raw":
		return encoding.Nop, nil
	case "utf-16", "utf-16le", "utf16", "utf16le":
		return wideUTF16, nil
	case "utf-16be", "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("odbx: unsupported encoding %q", name)
	}
	return enc, nil
}

// isWideClass reports whether a native character type code belongs to
// the wide character class.
func isWideClass(sqlType SQLSMALLINT) bool {
	switch sqlType {
	case SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		return true
	}
	return false
}

// newTextCodecs resolves configured codec names. Empty names keep the
// defaults: UTF-8 for the narrow class, UTF-16LE for the wide class.
func newTextCodecs(narrow, wide string) (textCodecs, error) {
	var tc textCodecs
	if narrow != "" {
		enc, err := resolveEncoding(narrow)
		if err != nil {
			return textCodecs{}, err
		}
		tc.narrow = enc
	}
	if wide != "" {
		enc, err := resolveEncoding(wide)
		if err != nil {
			return textCodecs{}, err
		}
		tc.wide = enc
	}
	return tc, nil
}

func (tc textCodecs) decodeNarrow(b []byte) (string, error) {
	if tc.narrow == nil || tc.narrow == encoding.Nop {
		return string(b), nil
	}
	out, err := tc.narrow.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("odbx: decoding character data: %w", err)
	}
	return string(out), nil
}

func (tc textCodecs) encodeNarrow(s string) ([]byte, error) {
	if tc.narrow == nil || tc.narrow == encoding.Nop {
		return []byte(s), nil
	}
	out, err := tc.narrow.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("odbx: encoding character data: %w", err)
	}
	return out, nil
}

// decodeWide converts a wide-class native buffer (UTF-16 code units
// unless reconfigured) to a host string. Surrogate pairs round-trip, so
// characters outside the basic multilingual plane survive.
func (tc textCodecs) decodeWide(b []byte) (string, error) {
	enc := tc.wide
	if enc == nil {
		enc = wideUTF16
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("odbx: decoding wide character data: %w", err)
	}
	return string(out), nil
}

func (tc textCodecs) encodeWide(s string) ([]byte, error) {
	enc := tc.wide
	if enc == nil {
		enc = wideUTF16
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("odbx: encoding wide character data: %w", err)
	}
	return out, nil
}
