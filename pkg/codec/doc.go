// Package codec encrypts persisted session data with a key derived from a
// pluggable KeySource and fingerprints that key so incompatible files can be
// detected before decryption is attempted.
//
// HostKeySource derives its key from the hostname, OS and architecture. That
// keeps files unreadable on other machines but offers no protection against
// anyone able to run code on this one. Use KeyringKeySource or
// StaticKeySource where that matters.
package codec
