// Package keys holds wallet keys for requesters and log owners, the seed
// derivation used for wallet subkeys and key-server keys, and the signature
// helpers used by verification receipts.
//
// Wallets are Ed25519. A wallet address is "0x" + hex(blake2b-256(0x00 || pub)),
// the Sui address scheme for Ed25519 keys.
//
// KeyStore is a local-first filesystem store. Seeds may be sealed with an age
// passphrase; unsealed seeds are stored as hex.
package keys
