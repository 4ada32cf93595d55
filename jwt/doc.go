// Package jwt implements the default session credential issuer: signed
// tokens handed to the requesting service once a handshake completes.
package jwt
