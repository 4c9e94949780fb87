// Package trust implements the hybrid-encryption control channel used to
// exchange sensitive payloads with clients that have not yet authenticated.
//
// Bulk data is encrypted with AES-GCM under a fresh per-call key; only the
// symmetric key (plus nonce) is wrapped with RSA-OAEP. The Keyring owns the
// server's process-lifetime keypair and the per-client public key records.
package trust
