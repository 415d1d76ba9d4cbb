// Package identity carries the validated identity attached to every admitted
// connection. Tokens are issued elsewhere; this package only represents the
// result of verifying one.
package identity

// Identity is the authenticated principal behind a connection or bridge call.
type Identity struct {
	ID          string
	DisplayName string
	IsAdmin     bool
}
