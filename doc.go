// Package httpconn implements an HTTP/1.1 client built from three
// layers, each usable on its own:
//
//   - [connection.Conn]: a single, possibly-TLS, persistent byte
//     stream to one resolved endpoint, serializing requests under a
//     read lock and a write lock.
//   - [pool.Pool]: a bounded, reused set of connections to the
//     endpoints one authority resolves to.
//   - [Session]: a dispatcher that owns one pool per authority and
//     follows redirects across authorities, something neither layer
//     below it can do alone.
//
// Most callers only need a Session:
//
//	session := httpconn.NewSession(
//		httpconn.WithCookieJar(jar),
//		httpconn.WithPoolLimit(16),
//	)
//	defer session.Close()
//
//	resp, err := session.Do(ctx, &connection.Request{
//		Method: http.MethodGet,
//		URL:    u,
//		Body:   connection.EmptyBody(),
//		Options: connection.Options{
//			RedirectMode:  connection.RedirectAny,
//			RedirectLimit: 10,
//		},
//	})
//
// The returned [connection.Response]'s Body is a single-consumer
// stream that holds its connection until it is drained to io.EOF or
// closed. Only a body drained to io.EOF leaves the connection open for
// reuse; closing it before io.EOF forces the connection closed.
//
// Callers that want finer control over connection lifecycle —
// bypassing pooling, or reusing one connection across many requests
// to the same endpoint without the indirection of a pool — can use the
// connection package directly.
package httpconn
