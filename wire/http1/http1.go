// Package http1 implements wire.Codec over HTTP/1.1, hand-rolling the
// request serializer and response parser rather than delegating to
// net/http's client-side machinery (which owns its own connection
// pooling and keep-alive accounting, duplicating what this module's
// connection and pool packages already do).
package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/bramblehttp/httpconn/wire"
)

// ErrMalformedHead is returned when a response status line or header
// block cannot be parsed. This is always fatal to the
// connection it was read from.
var ErrMalformedHead = errors.New("http1: malformed response head")

// Codec is the stateless HTTP/1.1 implementation of wire.Codec.
type Codec struct {
	// MaxLineLength bounds the length of any single status/header line,
	// guarding against a server that never sends a line terminator. A
	// non-positive value disables the bound.
	MaxLineLength int
}

var _ wire.Codec = Codec{}

func (c Codec) WriteHead(w *bufio.Writer, method, target string, header http.Header, contentLength int64, chunked bool) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	if chunked {
		header.Set("Transfer-Encoding", "chunked")
		header.Del("Content-Length")
	} else {
		header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
		header.Del("Transfer-Encoding")
	}
	for _, key := range sortedKeys(header) {
		for _, value := range header[key] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", key, sanitizeHeaderValue(value)); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (c Codec) WriteBodyChunk(w *bufio.Writer, chunked bool, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !chunked {
		return w.Write(p)
	}
	if _, err := fmt.Fprintf(w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	n, err := w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

func (c Codec) FinishBody(w *bufio.Writer, chunked bool) error {
	if !chunked {
		return nil
	}
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}

func (c Codec) ReadHead(r *bufio.Reader) (wire.ResponseHead, error) {
	line, err := c.readLine(r)
	if err != nil {
		return wire.ResponseHead{}, err
	}
	major, minor, status, reason, err := parseStatusLine(line)
	if err != nil {
		return wire.ResponseHead{}, err
	}
	header, err := c.readHeader(r)
	if err != nil {
		return wire.ResponseHead{}, err
	}
	return wire.ResponseHead{
		ProtoMajor: major,
		ProtoMinor: minor,
		StatusCode: status,
		Status:     reason,
		Header:     header,
	}, nil
}

func (c Codec) NewBodyReader(r *bufio.Reader, head wire.ResponseHead) io.Reader {
	if isChunked(head.Header) {
		return &chunkedReader{br: r, codec: c, remain: -1}
	}
	if noBodyAllowed(head.StatusCode) {
		return http.NoBody
	}
	if cl, ok := contentLength(head.Header); ok {
		if cl <= 0 {
			return http.NoBody
		}
		return io.LimitReader(r, cl)
	}
	// No Content-Length and not chunked: body runs until the connection
	// closes. The caller (connection.Conn) does not reuse such a
	// connection afterward.
	return r
}

func (c Codec) readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if c.MaxLineLength > 0 && sb.Len() > c.MaxLineLength {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedHead, c.MaxLineLength)
		}
	}
	return sb.String(), nil
}

func (c Codec) readHeader(r *bufio.Reader) (http.Header, error) {
	header := make(http.Header)
	for {
		line, err := c.readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return header, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q has no colon", ErrMalformedHead, line)
		}
		key := textproto.TrimString(name)
		if key == "" {
			return nil, fmt.Errorf("%w: empty header name", ErrMalformedHead)
		}
		header.Add(key, textproto.TrimString(value))
	}
}

func parseStatusLine(line string) (major, minor, status int, reason string, err error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return 0, 0, 0, "", fmt.Errorf("%w: status line %q", ErrMalformedHead, line)
	}
	major, minor, ok = parseHTTPVersion(proto)
	if !ok {
		return 0, 0, 0, "", fmt.Errorf("%w: protocol %q", ErrMalformedHead, proto)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	status, err = strconv.Atoi(codeStr)
	if err != nil || status < 100 || status > 999 {
		return 0, 0, 0, "", fmt.Errorf("%w: status code %q", ErrMalformedHead, codeStr)
	}
	return major, minor, status, reason, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	majorStr, minorStr, found := strings.Cut(proto[len(prefix):], ".")
	if !found {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(majorStr)
	minor, err2 := strconv.Atoi(minorStr)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func isChunked(header http.Header) bool {
	for _, v := range header["Transfer-Encoding"] {
		if strings.EqualFold(strings.TrimSpace(v), "chunked") {
			return true
		}
	}
	return false
}

func contentLength(header http.Header) (int64, bool) {
	v := header.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func noBodyAllowed(status int) bool {
	return status == http.StatusNoContent || status == http.StatusNotModified || (status >= 100 && status < 200)
}

func sortedKeys(header http.Header) []string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	// Host should precede other headers for readability when present;
	// beyond that, stable alphabetical order keeps wire output
	// deterministic for tests.
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for i, k := range keys {
		if k == "Host" {
			copy(keys[1:i+1], keys[:i])
			keys[0] = k
			break
		}
	}
	return keys
}

func sanitizeHeaderValue(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r != '\r' && r != '\n' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
