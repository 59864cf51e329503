// Package helseid obtains DPoP bound access tokens from HelseId.
//
// Client performs a single client credentials token request. The client
// authenticates with a signed client assertion (RFC 7523) and proves
// possession of the proof key with a DPoP header. When HelseId answers with
// a use_dpop_nonce challenge the request is repeated exactly once with the
// nonce it supplied.
//
// TokenService sits in front of the Client and caches the access token until
// 30 seconds before it expires. Concurrent callers that miss the cache are
// serialised so that only one token request is made; the cache is checked
// again once the lock is held.
//
// The cache is pluggable: MemoryTokenCache keeps the token in process and
// RedisTokenCache shares it between processes.
package helseid
