// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package auth implements the KSeF challenge/response authentication flow.

# Flow

	Idle -> ChallengeObtained -> RequestSigned -> Submitted -> Polling -> Authenticated
	                                                                   \-> Failed

  1. POST /auth/challenge returns a challenge and a server timestamp.
  2. An AuthTokenRequest document embedding the challenge, the context
     identifier and the subject identifier type is built and XAdES-signed.
  3. POST /auth/xades-signature returns a reference number and a temporary
     authentication token.
  4. GET /auth/{referenceNumber}, bearing the temporary token, is polled
     every 1.2s for up to 30s until the embedded status reports success.
  5. POST /auth/token/redeem exchanges the temporary token for access and
     refresh tokens.

Every call to Authenticate starts again from Idle.

# Usage

	signer, _ := security.NewXAdESSigner(credential)
	a := auth.NewAuthenticator(client, signer, &auth.Config{
	    Context:               auth.ContextIdentifier{Type: auth.ContextNip, Value: "5265877635"},
	    SubjectIdentifierType: auth.SubjectCertificateSubject,
	}, nil)

	result, err := a.Authenticate(ctx)
	if errors.Is(err, auth.ErrAuthenticationTimeout) {
	    // the authority is still processing
	}

Access tokens are JWTs; Result.ValidUntil is read from the exp claim so the
caller can refresh (Refresh) or re-authenticate before the token expires.
*/
package auth
