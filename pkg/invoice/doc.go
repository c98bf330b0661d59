// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package invoice reads the few fields of an FA(3) invoice document that a
// client needs after submission: seller NIP, issue date, invoice number and
// gross amount. It also derives the KSeF verification link and renders it as
// a QR code.
//
// The package does not build or validate invoices. Fields are located by
// local name, so documents using any namespace prefix are accepted.
package invoice
