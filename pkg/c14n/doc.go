// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package c14n canonicalizes XML subtrees for digest and signature computation.

Two algorithms are provided:

  - Exclusive: Exclusive XML Canonicalization 1.0 without comments
    (http://www.w3.org/2001/10/xml-exc-c14n#), backed by signedxml.
  - Inclusive: Canonical XML 1.0 without comments
    (http://www.w3.org/TR/2001/REC-xml-c14n-20010315), backed by
    github.com/ucarion/c14n.

Both operate on an element in its document context. The element is copied
out of its tree and the namespace declarations it inherits from its ancestors
are carried onto the copy, so canonicalizing a SignedInfo that lives inside
a signed document yields the same bytes a verifier computes. Exclusive
canonicalization carries only the prefixes the subtree actually uses;
inclusive canonicalization carries every in-scope declaration.

	doc := etree.NewDocument()
	_ = doc.ReadFromBytes(data)
	digestInput, err := c14n.Exclusive(doc.Root())
*/
package c14n
