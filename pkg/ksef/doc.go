// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ksef submits invoices to the Polish National e-Invoicing System.

Client ties together authentication (package auth), the encrypted online
session (package session) and bounded polling (package retry):

	client := ksef.NewClient(api, signer, cfg, logger)
	result, err := client.SubmitInvoice(ctx, invoiceXML, ksef.SubmitOptions{FetchUPO: true})

# Submission

SubmitInvoice runs these steps in order:

 1. Ensure an access token is held, refreshing or re-authenticating as needed.
 2. Open an online session. Failure here is returned as an error.
 3. Send the invoice. On failure the status becomes 500 and the session is
    closed best-effort, but processing continues.
 4. Poll the session status for a bounded number of attempts. The reported
    code replaces the local status, and codes >= 400 set the error text.
 5. Look up the invoice metadata to find the KSeF number. An invoice-level
    error code is reported in the result; running out of attempts yields
    UnknownKsefNumber.
 6. Derive seller NIP, issue date and hash from the submitted document.
 7. If the status is below 400 and the KSeF number is known, optionally
    fetch the UPO and render the verification QR code. Their failures are
    logged only.

Steps after the session was opened never return an error, so callers always
get an inspectable SubmitResult.
*/
package ksef
