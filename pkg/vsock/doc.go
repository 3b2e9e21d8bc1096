// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package vsock provides blocking stream sockets over the AF_VSOCK
// address family.
//
// A Listener binds a local context-id/port pair and hands out one Stream per
// accepted peer. Dial creates a Stream to a remote pair, retrying with an
// exponential backoff while the peer is not listening yet. Streams map every
// Read and Write onto exactly one recv(2)/send(2) call and keep no buffers of
// their own, so callers needing exact-length transfers must loop.
//
// The package does not log and never retries reads or writes. A recv or send
// interrupted by a signal is reported as zero bytes transferred with a nil
// error.
package vsock
