// Package credentials manages user-owned service credentials.
//
// Credential payloads are encrypted at rest with a key derived from a
// master passphrase via scrypt and sealed with NaCl secretbox. Plaintext
// only exists in memory during an explicit Decrypt call; listing and
// metadata reads never touch ciphertext.
//
// Access control is owner-based with explicit sharing. Every decrypt is
// counted and audited so credential usage is traceable.
package credentials
