// Package c14n implements inclusive and exclusive XML canonicalization.
package c14n

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	ucc14n "github.com/ucarion/c14n"
)

// Algorithm identifiers
const (
	AlgorithmInclusive = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgorithmExclusive = "http://www.w3.org/2001/10/xml-exc-c14n#"
)

var (
	ErrNoElement            = errors.New("c14n: no element to canonicalize")
	ErrUnsupportedAlgorithm = errors.New("c14n: unsupported algorithm")
)

// Exclusive canonicalizes el with Exclusive XML Canonicalization.
func Exclusive(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, ErrNoElement
	}
	detached := detach(el, false)

	canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := canonicalizer.ProcessElement(detached, "")
	if err != nil {
		return nil, fmt.Errorf("exclusive canonicalization failed: %w", err)
	}
	return []byte(out), nil
}

// Inclusive canonicalizes el with Canonical XML 1.0.
func Inclusive(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, ErrNoElement
	}
	detached := detach(el, true)

	doc := etree.NewDocument()
	doc.SetRoot(detached)
	serialized, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize element: %w", err)
	}
	return InclusiveBytes(serialized)
}

// InclusiveBytes canonicalizes a serialized document with Canonical XML 1.0.
func InclusiveBytes(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	out, err := ucc14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("inclusive canonicalization failed: %w", err)
	}
	return out, nil
}

// ExclusiveBytes parses data and canonicalizes its root element.
func ExclusiveBytes(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return Exclusive(doc.Root())
}

// Canonicalize dispatches on an algorithm URI.
func Canonicalize(algorithm string, el *etree.Element) ([]byte, error) {
	switch algorithm {
	case AlgorithmExclusive:
		return Exclusive(el)
	case AlgorithmInclusive:
		return Inclusive(el)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
}

// detach copies el and declares on the copy the ancestor namespaces it
// inherits. With all unset only prefixes used inside the subtree are carried.
func detach(el *etree.Element, all bool) *etree.Element {
	inherited := inScopeNamespaces(el.Parent())
	copied := el.Copy()

	var used map[string]bool
	if !all {
		used = usedPrefixes(copied)
	}

	declared := make(map[string]bool)
	for _, a := range copied.Attr {
		if p, ok := declaredPrefix(a); ok {
			declared[p] = true
		}
	}

	for _, prefix := range inherited.order {
		if declared[prefix] {
			continue
		}
		if !all && !used[prefix] {
			continue
		}
		uri := inherited.uris[prefix]
		if prefix == "" {
			if uri == "" {
				continue
			}
			copied.CreateAttr("xmlns", uri)
		} else {
			copied.CreateAttr("xmlns:"+prefix, uri)
		}
	}
	return copied
}

type namespaces struct {
	uris  map[string]string
	order []string
}

// inScopeNamespaces collects declarations from el and its ancestors; the
// nearest declaration of a prefix wins.
func inScopeNamespaces(el *etree.Element) namespaces {
	ns := namespaces{uris: make(map[string]string)}
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			prefix, ok := declaredPrefix(a)
			if !ok {
				continue
			}
			if _, seen := ns.uris[prefix]; seen {
				continue
			}
			ns.uris[prefix] = a.Value
			ns.order = append(ns.order, prefix)
		}
	}
	return ns
}

func declaredPrefix(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "xmlns":
		return a.Key, true
	case a.Space == "" && a.Key == "xmlns":
		return "", true
	}
	return "", false
}

func usedPrefixes(el *etree.Element) map[string]bool {
	used := make(map[string]bool)
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		used[e.Space] = true
		for _, a := range e.Attr {
			if _, isDecl := declaredPrefix(a); isDecl || a.Space == "" || a.Space == "xml" {
				continue
			}
			used[a.Space] = true
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(el)
	return used
}
