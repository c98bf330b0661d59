package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const certEntry = `{
	"certificate": "MIIB",
	"validFrom": "2025-01-01T00:00:00Z",
	"validTo": "2027-01-01T00:00:00Z",
	"usage": ["SymmetricKeyEncryption"]
}`

func TestCertificateList_NormalizesShapes(t *testing.T) {
	shapes := map[string]string{
		"bare array":            `[` + certEntry + `]`,
		"items":                 `{"items":[` + certEntry + `]}`,
		"certificates":          `{"certificates":[` + certEntry + `]}`,
		"publicKeyCertificates": `{"publicKeyCertificates":[` + certEntry + `]}`,
	}

	var reference CertificateList
	require.NoError(t, json.Unmarshal([]byte(shapes["bare array"]), &reference))
	require.Len(t, reference, 1)

	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			var list CertificateList
			require.NoError(t, json.Unmarshal([]byte(body), &list))
			assert.Equal(t, reference, list)
		})
	}
}

func TestCertificateList_UnknownWrapper(t *testing.T) {
	var list CertificateList
	err := json.Unmarshal([]byte(`{"keys":[]}`), &list)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
}

func TestPublicKeyCertificate_ValidAt(t *testing.T) {
	var list CertificateList
	require.NoError(t, json.Unmarshal([]byte(`[`+certEntry+`]`), &list))
	c := list[0]

	assert.True(t, c.HasUsage(UsageSymmetricKeyEncryption))
	assert.False(t, c.HasUsage(UsageKsefTokenEncryption))
	assert.True(t, c.ValidAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, c.ValidAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, c.ValidAt(time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSessionStatus_Shapes(t *testing.T) {
	var nested SessionStatus
	require.NoError(t, json.Unmarshal([]byte(`{"status":{"code":200,"description":"ok"},"invoiceCount":1}`), &nested))
	assert.Equal(t, 200, nested.Code)
	assert.Equal(t, "ok", nested.Description)
	require.NotNil(t, nested.InvoiceCount)
	assert.Equal(t, 1, *nested.InvoiceCount)

	var flat SessionStatus
	require.NoError(t, json.Unmarshal([]byte(`{"code":450,"description":"rejected"}`), &flat))
	assert.Equal(t, 450, flat.Code)
	assert.Equal(t, "rejected", flat.Description)

	var missing SessionStatus
	err := json.Unmarshal([]byte(`{"invoiceCount":1}`), &missing)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "status.code", pe.Field)
}

func TestSessionStatus_MarshalNested(t *testing.T) {
	data, err := json.Marshal(SessionStatus{Code: 440, Description: "duplicate"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":{"code":440,"description":"duplicate"}}`, string(data))
}

func TestChallengeResponse_IssuedAt(t *testing.T) {
	c := ChallengeResponse{Challenge: "abc", Timestamp: "2024-01-01T00:00:00Z"}
	ts, err := c.IssuedAt()
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), ts.UnixMilli())

	c.Timestamp = "yesterday"
	_, err = c.IssuedAt()
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestAuthInitResponse_Validate(t *testing.T) {
	r := AuthInitResponse{ReferenceNumber: "ref"}
	err := r.Validate()
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "authenticationToken.token", pe.Field)

	r.AuthenticationToken = &TokenInfo{Token: "t"}
	assert.NoError(t, r.Validate())
}

func TestException_AsStatusError(t *testing.T) {
	e := &Exception{ExceptionDetailList: []ExceptionDetail{{ExceptionCode: 21405, ExceptionDescription: "bad signature"}}}
	se := e.AsStatusError()
	assert.Equal(t, 21405, se.Code)
	assert.Contains(t, se.Error(), "bad signature")
}
