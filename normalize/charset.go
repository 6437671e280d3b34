package normalize

import (
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DecodeCharset wraps r so it yields UTF-8 from the named legacy encoding,
// e.g. "windows-1250", "shift_jis" or "iso-8859-1".
func DecodeCharset(r io.Reader, name string) (io.Reader, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", name, err)
	}

	return transform.NewReader(r, enc.NewDecoder()), nil
}

// HTMLReader converts an HTML document to UTF-8 based on the Content-Type
// header and the document's meta tags.
func HTMLReader(r io.Reader, contentType string) (io.Reader, error) {
	return charset.NewReader(r, contentType)
}
