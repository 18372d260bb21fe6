package novel

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// TextReader handles plain text files. Serialized Chinese novels from the
// usual sources arrive in GB18030 or GBK at least as often as UTF-8, so the
// decoder sniffs rather than trusts.
type TextReader struct{}

func (p *TextReader) Read(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText decodes raw novel bytes. Valid UTF-8 wins outright; GB18030
// maps nearly every byte sequence somewhere, so it is only trusted when it
// produces no replacement runes.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	for _, enc := range []encoding.Encoding{simplifiedchinese.GB18030, simplifiedchinese.GBK} {
		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		if !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("text is neither valid UTF-8 nor GB18030/GBK")
}
