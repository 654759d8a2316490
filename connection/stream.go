package connection

import (
	"errors"
	"io"
	"sync"
)

// Stream is a response-body stream handle: a
// single-consumer io.ReadCloser that retains the owning connection's
// read lock until the caller has either drained it to EOF or explicitly
// closed it early. Closing early (before EOF) closes the underlying
// connection, since the wire position is then indeterminate for the
// next request.
type Stream struct {
	conn   *Conn
	reader io.Reader
	unlock func()

	once sync.Once
}

var _ io.ReadCloser = (*Stream)(nil)

func newStream(conn *Conn, reader io.Reader, unlock func()) *Stream {
	return &Stream{conn: conn, reader: reader, unlock: unlock}
}

// Read implements io.Reader, delegating to the underlying wire.Codec
// body reader. Reaching io.EOF here is what makes the connection
// eligible for reuse; see finish.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err != nil {
		s.finish(errors.Is(err, io.EOF))
	}
	return n, err
}

// Close implements io.Closer. If the body has not yet been drained to
// EOF, the remaining bytes are discarded by closing the connection
// (releasing before EOF closes the underlying connection),
// rather than by reading and throwing away arbitrarily large remaining
// content.
func (s *Stream) Close() error {
	s.finish(false)
	return nil
}

func (s *Stream) finish(drained bool) {
	s.once.Do(func() {
		s.conn.ongoingRequests.Add(-1)
		if drained {
			s.conn.state.CompareAndSwap(int32(StateInRequest), int32(StateOpen))
		} else {
			s.conn.forceClose()
		}
		s.unlock()
	})
}
