// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mockserver implements an in-memory KSeF authority for tests and local
development.

The server mounts the KSeF 2.0 endpoints under /api/v2 and behaves like the
real authority where clients can observe it:

  - challenges are single use and expire after ten minutes
  - XAdES signatures on AuthTokenRequest documents are verified against the
    embedded certificate
  - authentication, access and refresh tokens are HS256 JWTs whose type is
    enforced per endpoint
  - session keys are unwrapped with the server's own RSA key, so invoices are
    really decrypted and their integrity fields checked
  - session and invoice status move through 100, 170 and a terminal code,
    with configurable pending polls

Faults can be injected with SetFaults to exercise rejected uploads,
business error codes and rate limiting.

	srv, _ := mockserver.New(nil)
	ts := httptest.NewServer(srv)
	client, _ := transport.NewClient(&transport.Config{BaseURL: ts.URL + mockserver.BasePath})
*/
package mockserver
