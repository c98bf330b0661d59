// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goksef is a client for KSeF, the Polish National e-Invoice System
(Krajowy System e-Faktur), API version 2.

# Overview

go-ksef authenticates a taxpayer context with a XAdES-signed token request,
submits FA(3) structured invoices in encrypted online sessions and retrieves
the official receipt (UPO) and the verification link of each accepted
invoice.

# Package Structure

	github.com/sirosfoundation/go-ksef/pkg/ksef      - Submission orchestrator
	github.com/sirosfoundation/go-ksef/pkg/auth      - Challenge, signed request, redeem and refresh
	github.com/sirosfoundation/go-ksef/pkg/session   - Online sessions and invoice encryption
	github.com/sirosfoundation/go-ksef/pkg/security  - XAdES signing, AES-256-CBC and RSA-OAEP
	github.com/sirosfoundation/go-ksef/pkg/transport - HTTPS client, rate limiting and API errors
	github.com/sirosfoundation/go-ksef/pkg/message   - Wire types of the KSeF API
	github.com/sirosfoundation/go-ksef/pkg/invoice   - Invoice metadata and verification QR codes
	github.com/sirosfoundation/go-ksef/pkg/retry     - Bounded polling with injectable clocks
	github.com/sirosfoundation/go-ksef/pkg/c14n      - Exclusive XML canonicalization

# Quick Start

	api, _ := transport.NewClient(&transport.Config{BaseURL: transport.Test.BaseURL()})
	signer, _ := security.NewXAdESSigner(credential)

	cfg := ksef.DefaultConfig()
	cfg.Auth.Context = auth.ContextIdentifier{Type: auth.ContextNip, Value: "5265877635"}
	cfg.QRBaseURL = transport.Test.QRBaseURL()

	client := ksef.NewClient(api, signer, cfg, slog.Default())
	result, err := client.SubmitInvoice(ctx, invoiceXML, ksef.SubmitOptions{FetchUPO: true})

Failures after the session was opened are reported in the result's status
rather than returned, so a caller always learns the session reference.

# Command Line

The ksef command (cmd/ksef) wraps the same flow and adds a local mock
authority for development:

	ksef mock-server &
	ksef --base-url http://127.0.0.1:8089/api/v2 submit invoice.xml
*/
package goksef
