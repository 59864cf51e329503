// Package handlers provides general infrastructure HTTP handlers
// (health, version, jwks).
package handlers
