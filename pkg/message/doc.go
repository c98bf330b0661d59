// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message defines the KSeF 2.0 wire model and the error taxonomy shared by
the client packages.

# Wire Types

Every request and response body exchanged with the authority has a Go type in
this package:

	POST /auth/challenge                 -> ChallengeResponse
	POST /auth/xades-signature           -> AuthInitResponse
	GET  /auth/{referenceNumber}         -> AuthStatusResponse
	POST /auth/token/redeem              -> RedeemResponse
	POST /auth/token/refresh             -> RefreshResponse
	GET  /security/public-key-certificates -> CertificateList
	POST /sessions/online                -> OpenSessionRequest / OpenSessionResponse
	POST /sessions/online/{ref}/invoices -> SendInvoiceRequest / SendInvoiceResponse
	GET  /sessions/{ref}                 -> SessionStatus
	GET  /sessions/{ref}/invoices        -> SessionInvoicesResponse

# Polymorphic Responses

The certificate endpoint has been observed returning a bare JSON array as well
as objects wrapping the list under "items", "certificates" or
"publicKeyCertificates". CertificateList resolves all of them into a single
slice at decode time, so no other package sees the ambiguity.

SessionStatus accepts both the nested form

	{"status": {"code": 200, "description": "..."}, "invoiceCount": 1}

and the flat form {"code": 200, "description": "..."}.

# Errors

  - ValidationError: malformed local input (timestamps, identifiers, config)
  - ProtocolError: a response is missing a required field
  - StatusError: the authority reported a business status code >= 400

All three are matched with errors.As; ProtocolError also matches
ErrProtocolViolation with errors.Is.
*/
package message
