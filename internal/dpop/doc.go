// Package dpop implements DPoP (Demonstrating Proof of Possession) proofs
// per RFC 9449.
//
// A DPoP proof is a JWT signed by the client's proof key and sent in the
// DPoP request header. It binds a single HTTP request, and optionally an
// access token, to the key pair. HelseId issues DPoP bound access tokens,
// and Slash requires a proof on every message request.
//
// # Token Structure
//
// Header:
//   - typ: "dpop+jwt"
//   - alg: the signing algorithm of the proof key (RS256 by default)
//   - jwk: the public proof key
//
// Payload:
//   - jti: unique token identifier
//   - htm: HTTP method
//   - htu: HTTP URI without query and fragment
//   - iat: issued-at timestamp
//   - nonce: server provided nonce, when the server asked for one
//   - ath: hash of the access token, when the request carries one
//
// Further claims can be added with WithClaims. The claims above are reserved
// and cannot be replaced by extra claims.
//
// # Usage
//
// Create proofs for requests:
//
//	proof, err := dpop.Build(key, "POST", "https://helseid-sts.nhn.no/connect/token", dpop.WithNonce(nonce))
//
// Verify incoming proofs:
//
//	verified, err := dpop.Verify(proof, dpop.VerifyOptions{Method: "POST", URI: requestURI})
package dpop
