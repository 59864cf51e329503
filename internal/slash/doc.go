// Package slash sends encrypted messages to the Slash API.
//
// [Client] talks to the two Slash endpoints: the key registry, which lists the
// RSA public keys messages are encrypted for, and the message endpoint.
//
// [Service] runs a send as a fixed sequence of stages:
//
//	validate -> fetch public key -> encrypt -> get access token -> build DPoP proof -> send
//
// Each stage can be replaced with an [Option]. A failure stops the send and is
// returned as a *SlashError with the code of the failed stage, wrapping the cause.
//
// The message is encrypted with a random AES-256 key, which is itself encrypted
// with the recipient public key. The DPoP proof sent with the message carries
// the message type and version, the hash of the plaintext, the encrypted
// symmetric key and the id of the recipient key.
package slash
