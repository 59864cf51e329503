// Package server provides slash-stub, a development receiver that stands in
// for both HelseId and the Slash API.
//
// the server is configured through environment variables
// (see internal/config/config.go for details)
//
// HelseId endpoints:
//   - GET  /.well-known/openid-configuration
//   - GET  /.well-known/openid-configuration/jwks
//   - POST /connect/token (client credentials, private_key_jwt, DPoP with nonce challenge)
//
// Slash endpoints:
//   - GET  /keys
//   - POST /message (DPoP bound token, message decryption and hash check)
//
// middleware is in internal/server/middleware
package server
