// Package keys implements the public key cryptography used throughout natter.
//
// Every node owns an ed25519 key-pair. The public key is the node's identity:
// it names the node's log, appears as hex inside chat:// links, and verifies
// the signatures that authenticate announced log heads. The private key stays
// in the local keyfile and signs the head of the local log.
package keys
