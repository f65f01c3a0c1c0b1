package validator

import (
	"bytes"
	"unicode/utf8"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ValidatePayload checks the serialized document against the Exchange's
// transport rules: size cap, UTF-8 without a byte-order mark.
func ValidatePayload(payload []byte, withAttachments bool) Result {
	r := Result{Errors: []domain.Violation{}, Warnings: []domain.Violation{}}

	limit := domain.MaxPayloadSize
	if withAttachments {
		limit = domain.MaxPayloadSizeWithAttachment
	}

	switch {
	case len(payload) == 0:
		r.fail(CodePayloadEmpty, "payload", "payload is empty")
	case len(payload) > limit:
		r.fail(CodePayloadTooLarge, "payload", "payload is %d bytes, limit is %d", len(payload), limit)
	}
	if bytes.HasPrefix(payload, utf8BOM) {
		r.fail(CodePayloadBOM, "payload", "payload starts with a UTF-8 byte-order mark")
	}
	if !utf8.Valid(payload) {
		r.fail(CodePayloadNotUTF8, "payload", "payload is not valid UTF-8")
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// PayloadErr maps a payload result to the matching sentinel so callers can
// distinguish size from encoding problems with errors.Is.
func PayloadErr(r Result) error {
	if len(r.Errors) == 0 {
		return nil
	}
	base := domain.ErrPayloadEncoding
	for _, v := range r.Errors {
		if v.Code == CodePayloadTooLarge {
			base = domain.ErrPayloadTooLarge
			break
		}
	}
	return base.WithDetails(r.Errors[0].Message).WithCause(r.Err())
}
