// Package vault holds the core types shared by every subsystem of the
// encrypted vault client: path newtypes, identifiers, the runtime
// capability and the client configuration.
//
// The packages in this module form a client-side encrypted vault over a
// Koofr-style remote. Plaintext names and contents never leave the
// client; the cipher package encrypts both before the remote package
// ever sees them.
package vault

// Version of the vault client
const Version = "0.5.0"
