// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport to the KSeF 2.0 API.

The client sends JSON or XML bodies, bears access tokens, enforces a per-call
deadline and an optional client-side rate limit, and turns every non-2xx
response into an *APIError carrying the status, the body and the server's
Retry-After hint.

# Environments

	transport.Production  https://ksef.mf.gov.pl/api/v2
	transport.Test        https://ksef-test.mf.gov.pl/api/v2
	transport.Demo        https://ksef-demo.mf.gov.pl/api/v2

Each environment also has a verification-link host used for invoice QR codes
(see Environment.QRBaseURL).

# TLS Configuration

The client negotiates TLS 1.2 or 1.3. For TLS 1.2 only ECDHE suites with
AES-GCM are offered:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# Client Usage

	client, err := transport.NewClient(&transport.Config{
	    BaseURL: transport.Test.BaseURL(),
	    Timeout: 30 * time.Second,
	})

	var challenge message.ChallengeResponse
	err = client.PostJSON(ctx, "/auth/challenge", "", nil, &challenge)

# Errors

	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
	    log.Printf("status %d retry after %s", apiErr.StatusCode, apiErr.RetryAfter)
	}

APIError implements retry.HTTPError, so 429 and 404 responses are absorbed by
retry.Poll. IsRateLimited and IsNotFound classify errors directly.

# Tracing

With Config.Trace set, request and response bodies are logged at debug level.
Authorization headers are never logged and token values inside JSON bodies
are replaced with [REDACTED].
*/
package transport
