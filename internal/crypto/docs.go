// Package crypto provides the cryptographic building blocks of the Slash messenger.
//
// It resolves the signing key used for HelseId client assertions and DPoP proofs,
// validates signing certificates, and implements the hybrid AES/RSA-OAEP encryption
// applied to every message sent to Slash.
//
// these are low level functions - see the slash package for the send pipeline.
package crypto
