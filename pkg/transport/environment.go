package transport

import (
	"strings"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// Environment selects the KSeF deployment
type Environment string

const (
	Production Environment = "production"
	Test       Environment = "test"
	Demo       Environment = "demo"
)

var environments = map[Environment]struct {
	api string
	qr  string
}{
	Production: {api: "https://ksef.mf.gov.pl/api/v2", qr: "https://qr.ksef.mf.gov.pl"},
	Test:       {api: "https://ksef-test.mf.gov.pl/api/v2", qr: "https://qr-test.ksef.mf.gov.pl"},
	Demo:       {api: "https://ksef-demo.mf.gov.pl/api/v2", qr: "https://qr-demo.ksef.mf.gov.pl"},
}

// ParseEnvironment accepts production, prod, test, demo (case-insensitive).
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return Production, nil
	case "test":
		return Test, nil
	case "demo":
		return Demo, nil
	}
	return "", &message.ValidationError{Field: "environment", Value: s}
}

// BaseURL returns the API root of the environment
func (e Environment) BaseURL() string {
	return environments[e].api
}

// QRBaseURL returns the verification-link host of the environment
func (e Environment) QRBaseURL() string {
	return environments[e].qr
}

func (e Environment) String() string {
	return string(e)
}
