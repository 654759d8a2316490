package connection

import (
	"bytes"
	"io"
	"net/http"
	"os"
)

type bodyKind int

const (
	bodyEmpty bodyKind = iota
	bodyBuffer
	bodyFile
	bodyStream
)

// Body is a request body: one of empty, byte buffer, or file-backed,
// plus one Go-idiomatic addition: a caller-supplied io.Reader of
// unknown length, sent chunked. Only the first three kinds are
// restartable, which matters for 307/308 redirects.
type Body struct {
	kind bodyKind
	buf  []byte
	path string
	r    io.Reader
}

// EmptyBody returns a body with no content.
func EmptyBody() Body {
	return Body{kind: bodyEmpty}
}

// BufferBody returns a body backed by an in-memory byte slice.
func BufferBody(b []byte) Body {
	return Body{kind: bodyBuffer, buf: b}
}

// FileBody returns a body backed by the file at path, opened fresh each
// time the body is sent (including on a redirect retry).
func FileBody(path string) Body {
	return Body{kind: bodyFile, path: path}
}

// StreamBody returns a body backed by an io.Reader of unknown length,
// sent with chunked transfer-coding. A stream body is not restartable:
// following a 307/308 redirect with one fails with
// ErrCannotRedirectUnbuffered.
func StreamBody(r io.Reader) Body {
	return Body{kind: bodyStream, r: r}
}

// Restartable reports whether this body can be re-sent, e.g. after a
// 307/308 redirect.
func (b Body) Restartable() bool {
	return b.kind != bodyStream
}

// open returns a reader over the body's content, its length (-1 if
// unknown, meaning the body must be sent chunked), and a closer that
// must be called once the body has been fully sent.
func (b Body) open() (io.Reader, int64, io.Closer, error) {
	switch b.kind {
	case bodyEmpty:
		return http.NoBody, 0, io.NopCloser(nil), nil
	case bodyBuffer:
		return bytes.NewReader(b.buf), int64(len(b.buf)), io.NopCloser(nil), nil
	case bodyFile:
		f, err := os.Open(b.path)
		if err != nil {
			return nil, 0, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, 0, nil, err
		}
		return f, info.Size(), f, nil
	case bodyStream:
		return b.r, -1, io.NopCloser(nil), nil
	default:
		return http.NoBody, 0, io.NopCloser(nil), nil
	}
}
