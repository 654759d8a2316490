package connection_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bramblehttp/httpconn/connection"
	"github.com/bramblehttp/httpconn/wire/http1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// rawServer accepts exactly one connection and hands the caller a
// bufio.ReadWriter over it, for tests that need to script raw
// HTTP/1.1 bytes rather than use net/http's server.
func rawServer(t *testing.T) (addr string, accept func() *bufio.ReadWriter) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), func() *bufio.ReadWriter {
		conn, err := ln.Accept()
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	}
}

func dial(addr string) connection.Endpoint {
	return connection.Endpoint{Network: "tcp", Address: addr}
}

func readRequestLine(t *testing.T, rw *bufio.ReadWriter) string {
	t.Helper()
	line, err := rw.ReadString('\n')
	require.NoError(t, err)
	for {
		l, err := rw.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	return line
}

func TestRopenKeepAlive(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\nKeep-Alive: timeout=30\r\n\r\nhello")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, err := url.Parse("http://example.test/index")
	require.NoError(t, err)
	resp, err := conn.Ropen(context.Background(), &connection.Request{
		Method: "GET",
		URL:    u,
		Body:   connection.EmptyBody(),
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.NoError(t, resp.Body.Close())

	require.Equal(t, connection.StateOpen, conn.State())
	require.Equal(t, int32(0), conn.WorkingRequests())
	require.True(t, conn.Timeout().After(time.Now()))

	<-done
}

func TestRopenConnectionClose(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, _ := url.Parse("http://example.test/")
	resp, err := conn.Ropen(context.Background(), &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hi", string(body))

	require.True(t, conn.Timeout().Before(time.Now().Add(time.Second)))

	<-done
}

func TestOptionsCodecBufferSizeAndHeaderLimit(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New(
		connection.WithCodec(http1.Codec{}),
		connection.WithBufferSize(4096),
		connection.WithMaxHeaderLineBytes(1024),
	)
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, _ := url.Parse("http://example.test/")
	resp, err := conn.Ropen(context.Background(), &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hi", string(body))
	require.NoError(t, resp.Body.Close())

	<-done
}

func TestMaxHeaderLineBytesRejectsOversizedLine(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		longValue := strings.Repeat("a", 512)
		_, err := rw.WriteString("HTTP/1.1 200 OK\r\nX-Long: " + longValue + "\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New(connection.WithMaxHeaderLineBytes(64))
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, _ := url.Parse("http://example.test/")
	_, err := conn.Ropen(context.Background(), &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.Error(t, err)

	<-done
}

func TestRopenSameEndpointRedirect(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 301 Moved Permanently\r\nLocation: /b\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())

		readRequestLine(t, rw)
		_, err = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: keep-alive\r\n\r\nok")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, _ := url.Parse("http://example.test/a")
	resp, err := conn.Ropen(context.Background(), &connection.Request{
		Method: "GET",
		URL:    u,
		Body:   connection.EmptyBody(),
		Options: connection.Options{
			RedirectMode:  connection.RedirectSameEndpoint,
			RedirectLimit: 3,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "/b", resp.Request.URL.Path)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(0), conn.WorkingRequests())

	<-done
}

func TestRopenCrossHostRedirectForbidden(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 302 Found\r\nLocation: http://other.test/b\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	// A bare connection is bound to one physical socket to one
	// endpoint, so even a request asking for the widest redirect mode
	// cannot be allowed to follow a redirect that names a different
	// host: that would send it to example.test's server under
	// other.test's authority.
	u, _ := url.Parse("http://example.test/a")
	_, err := conn.Ropen(context.Background(), &connection.Request{
		Method: "GET",
		URL:    u,
		Body:   connection.EmptyBody(),
		Options: connection.Options{
			RedirectMode:  connection.RedirectAny,
			RedirectLimit: 3,
		},
	})
	require.ErrorIs(t, err, connection.ErrForbiddenRedirect)

	<-done
}

func TestRopenNotConnected(t *testing.T) {
	t.Parallel()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	u, _ := url.Parse("http://example.test/")
	_, err := conn.Ropen(context.Background(), &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.ErrorIs(t, err, connection.ErrNotConnected)
}

func TestSetHostRejectsWhileOpen(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Connect and SetHost send nothing, so the server only accepts.
		accept()
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	err := conn.SetHost("other.test")
	require.ErrorIs(t, err, connection.ErrInvalidArgument)

	<-done
}

func TestCloseEarlyForcesClosed(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	stop := make(chan struct{})
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		rw := accept()
		readRequestLine(t, rw)
		_, err := rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\nConnection: keep-alive\r\n\r\n")
		require.NoError(t, err)
		require.NoError(t, rw.Flush())
		// Server never sends the body; client will close early.
		<-stop
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	u, _ := url.Parse("http://example.test/")
	resp, err := conn.Ropen(context.Background(), &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.NoError(t, err)

	require.NoError(t, resp.Body.Close())
	require.Equal(t, connection.StateClosed, conn.State())
	close(stop)
	<-serverDone
}

func TestRopenCancelMidResponseForcesClosed(t *testing.T) {
	t.Parallel()

	addr, accept := rawServer(t)
	release := make(chan struct{})
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		rw := accept()
		readRequestLine(t, rw)
		// Request was sent and read; the server now stalls instead of
		// responding, so cancellation lands while Ropen is waiting on
		// the response head.
		<-release
	}()

	conn := connection.New()
	require.NoError(t, conn.SetHost("example.test"))
	require.NoError(t, conn.Connect(context.Background(), dial(addr)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	u, _ := url.Parse("http://example.test/")
	_, err := conn.Ropen(ctx, &connection.Request{Method: "GET", URL: u, Body: connection.EmptyBody()})
	require.ErrorIs(t, err, connection.ErrOperationAborted)
	require.Equal(t, connection.StateClosed, conn.State())

	close(release)
	<-serverDone
}
