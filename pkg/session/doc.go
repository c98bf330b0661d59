// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package session manages encrypted KSeF online sessions.

# Lifecycle

	Closed -> Opening -> Active -> Closing -> Closed
	   any state -> ForceClosed

Open fetches the authority's public key certificates, selects the one
published for SymmetricKeyEncryption whose validity window contains now
(latest validFrom wins), generates a fresh AES-256 key and IV, wraps the key
with RSA-OAEP/SHA-256 and opens the session. Calling Open while a session is
Active returns the existing reference without any network call.

SendInvoice encrypts the invoice with AES-256-CBC/PKCS#7 and sends it with
the SHA-256 hashes and sizes of both the plaintext and the ciphertext.

Close asks the authority to close the session and wipes the key material.
ForceClose only wipes the key material; it is meant for the case where a
previous step already failed and the server state is unknown.

# Status Polling

	status, err := mgr.PollUntilTerminal(ctx, 2*time.Second, 2*time.Minute)

Status codes 200, 405, 415, 420, 430, 435, 440, 445 and 500 are terminal by
default (Config.TerminalCodes). HTTP 429 sleeps for the Retry-After hint and
HTTP 404 sleeps max(500ms, interval). When the wait runs out the last status
seen is returned; a timeout error is returned only if no status was seen.
Polling never changes the session state.

# Concurrency

A Manager holds mutable key material and a session reference without any
locking. Callers must serialize Open, SendInvoice and Close on one Manager.
*/
package session
