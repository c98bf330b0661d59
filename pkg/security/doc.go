// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the cryptography of the KSeF client: the
XAdES-BES enveloped signature over authentication requests and the
encryption of invoices sent in an online session.

# XAdES Signatures

	signer, err := security.NewXAdESSigner(credential)
	signedXML, err := signer.Sign(authTokenRequest)

The signature carries two references:
  - URI="" over the whole document, with the enveloped-signature and
    Exclusive C14N transforms
  - the XAdES SignedProperties (signing time, certificate digest, issuer and
    decimal serial number), canonicalized with Exclusive C14N

SignedInfo itself is canonicalized with inclusive Canonical XML 1.0, in the
namespace context of the signed document. The signing time is backdated by
one minute by default (WithSigningTimeOffset) because the authority rejects
signing times it perceives as future.

Supported keys:
  - RSA: rsa-sha256, PKCS#1 v1.5
  - ECDSA P-256: ecdsa-sha256, low-S normalized, IEEE P1363 r||s encoding

Before signing, the credential is checked by signing and verifying a fixed
message with the certificate's public key. A mismatch fails with
ErrKeyCertificateMismatch before any network call is made.

VerifyXAdES recomputes both digests and checks the signature value against
the embedded certificate.

# Credentials

A Credential is a crypto.Signer that also exposes its certificate. Keys held
in files, PKCS#12 bundles or PKCS#11 tokens all satisfy it (see
internal/keystore), so the private key never has to leave its store.

# Session Encryption

	var c security.DefaultCipher
	key, err := c.NewSessionKey()        // 32-byte AES key, 16-byte IV
	wrapped, err := c.WrapKey(pub, key)  // RSA-OAEP with SHA-256
	ciphertext, err := c.Encrypt(key, invoiceXML) // AES-256-CBC, PKCS#7
	key.Zero()

Cipher is an interface so HSM-backed implementations can be substituted.
*/
package security
