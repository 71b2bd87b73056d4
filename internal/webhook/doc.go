// Package webhook implements the GitHub webhook endpoint with HMAC-SHA1
// signature verification over the exact raw request body.
//
// The hard part of the problem is that JSON decoding is destructive: once
// the body is parsed, the original byte sequence is gone, yet the signature
// must be computed over those original bytes, not a re-serialized
// reconstruction. The package therefore splits the endpoint into two
// cooperating pieces:
//
//   - a body-capturing decode step that buffers the entire body before any
//     parsing, producing both the decoded payload and a byte-exact raw copy
//   - a signature verification step that recomputes HMAC-SHA1 over the
//     captured raw bytes and compares it against the X-Hub-Signature header
//     claim in constant time
//
// # Security Model
//
//   - HMAC-SHA1 signatures verified using crypto/subtle (constant-time comparison)
//   - Body size limits enforced to prevent DoS attacks
//   - Every rejection path (missing signature, malformed signature, bad
//     JSON, oversized body, digest mismatch) produces the same fixed
//     401 "Not Authorized" response, so probing the endpoint reveals
//     nothing about why a request failed
//   - Request logging excludes payload content
//   - The secret is loaded from the environment at startup (never hardcoded)
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path
//  2. Body is read in full under the size cap (raw bytes captured)
//  3. JSON content types are decoded; the decoded payload and the raw
//     bytes are attached to request-internal context state
//  4. X-Hub-Signature is extracted and compared against HMAC-SHA1 of the
//     raw bytes (reject with 401 on any mismatch)
//  5. The delivery is recorded in the durable queue
//  6. 202 Accepted returned with the delivery id
package webhook
