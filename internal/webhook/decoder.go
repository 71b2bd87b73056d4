package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

// jsonWrapperKey holds non-object top-level JSON values so the decoded
// shape is always a mapping regardless of input shape.
const jsonWrapperKey = "_json"

// ErrBodyTooLarge is returned when the request body exceeds the configured
// size limit. The partial bytes read are discarded: a truncated capture is
// useless for signature verification.
var ErrBodyTooLarge = errors.New("request body exceeds size limit")

// ParseError reports a body that was declared JSON but failed to decode.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed JSON body: %v", e.err)
}

func (e *ParseError) Unwrap() error { return e.err }

// isJSONContentType reports whether the declared media type should go
// through JSON decoding: a subtype of exactly "json", or a structured
// syntax suffix of "+json" (e.g. application/vnd.github+json).
func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, subtype, ok := strings.Cut(mediaType, "/")
	if !ok {
		return false
	}
	return subtype == "json" || strings.HasSuffix(subtype, "+json")
}

// DecodeBody is the body-capturing decoder. It reads the entire stream
// into memory first so the raw bytes survive decoding, then parses them.
//
// Results by case:
//   - non-JSON content type: decoding is skipped; payload is nil and raw
//     is empty so downstream verification never reads uninitialized state
//   - empty body: empty payload mapping, empty raw
//   - top-level object: that object, raw = the bytes read
//   - top-level array or scalar: {"_json": value}, raw = the bytes read
//   - malformed JSON: *ParseError, no raw bytes retained
//   - body over maxSize: ErrBodyTooLarge, no raw bytes retained
func DecodeBody(contentType string, body io.Reader, maxSize int64) (map[string]any, []byte, error) {
	if !isJSONContentType(contentType) {
		return nil, []byte{}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(body, maxSize+1))
	if err != nil {
		return nil, []byte{}, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return nil, []byte{}, ErrBodyTooLarge
	}

	if len(raw) == 0 {
		return map[string]any{}, []byte{}, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, nil, &ParseError{err: err}
	}

	if obj, ok := value.(map[string]any); ok {
		return obj, raw, nil
	}
	return map[string]any{jsonWrapperKey: value}, raw, nil
}

// Captured body state travels on the request context under unexported
// keys.
type rawBodyKey struct{}
type payloadKey struct{}

func withCapturedBody(ctx context.Context, raw []byte, payload map[string]any) context.Context {
	ctx = context.WithValue(ctx, rawBodyKey{}, raw)
	return context.WithValue(ctx, payloadKey{}, payload)
}

// RawBodyFromContext returns the byte-exact body captured by the decoder.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	raw, ok := ctx.Value(rawBodyKey{}).([]byte)
	return raw, ok
}

// PayloadFromContext returns the decoded JSON payload, always a mapping.
// The bool is false for requests whose content type bypassed decoding.
func PayloadFromContext(ctx context.Context) (map[string]any, bool) {
	payload, ok := ctx.Value(payloadKey{}).(map[string]any)
	return payload, ok && payload != nil
}
