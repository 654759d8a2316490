// Package attrs provides a container for type-safe custom attributes.
// This can be used to add custom metadata to a resolved endpoint without
// making connection.Endpoint itself uncomparable (it is used as a map
// key throughout the pool package, so it stays a bare dial target).
// Custom attributes are declared using [NewKey] to create a
// strongly-typed key. The values can then be defined using the key's
// Value method.
//
// The following example attaches the pool package's floating point
// Weight attribute to one of two resolved endpoints, biasing a pool's
// new-connection placement toward it:
//
//	func (r *myResolver) Resolve(ctx context.Context, hostPort string) ([]resolver.Resolved, error) {
//		return []resolver.Resolved{
//			{
//				Endpoint:   connection.Endpoint{Network: "tcp", Address: "10.0.0.1:443"},
//				Attributes: attrs.New(attrs.Value(pool.Weight, 2.0)),
//			},
//			{Endpoint: connection.Endpoint{Network: "tcp", Address: "10.0.0.2:443"}},
//		}, nil
//	}
//
// A custom resolver can attach any kind of metadata to a
// [resolver.Resolved] endpoint this way, which a pool's
// endpoint-selection policy can then access in a type-safe way using
// the [GetValue] function; pool.Weight is one such key that the pool
// package itself understands.
package attrs
