// Package flows terminates WhatsApp Flows data-channel requests.
//
// Meta encrypts each request with a fresh AES-128-GCM key, itself wrapped
// with the business's RSA public key (OAEP, SHA-256). The handler unwraps
// the AES key with the configured private key, decrypts the payload,
// dispatches on the flow action (ping, INIT, data_exchange, fallback), and
// encrypts the response with the same AES key under a fresh IV, as the
// Flows health-check requires.
package flows
