package services

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidScanPayload indicates a scanned QR payload no bin id could be
// extracted from.
var ErrInvalidScanPayload = errors.New("scan: invalid payload")

const binIDPrefix = "bin_"

// ParseBinID extracts a bin id from a scanned QR payload. Three encodings are
// accepted: a bare bin id, an https link whose path ends in /bin/<id>, and the
// app deep link sortimate://bin/<id>. Anything else is rejected before any
// state is touched.
func ParseBinID(payload string) (string, error) {
	raw := strings.TrimSpace(payload)
	if raw == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidScanPayload)
	}

	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidScanPayload, payload)
		}
		id, ok := binIDFromURL(parsed)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidScanPayload, payload)
		}
		return validateBinID(id, payload)
	}

	if strings.HasPrefix(raw, binIDPrefix) {
		return validateBinID(raw, payload)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScanPayload, payload)
}

func binIDFromURL(u *url.URL) (string, bool) {
	if u.Scheme == "sortimate" {
		// sortimate://bin/<id> parses with host "bin" and the id as path.
		if u.Host == "bin" {
			id := strings.Trim(u.Path, "/")
			return id, id != "" && !strings.Contains(id, "/")
		}
		return "", false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 2 && segments[len(segments)-2] == "bin" {
		return segments[len(segments)-1], true
	}
	return "", false
}

func validateBinID(id, payload string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidScanPayload, payload)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidScanPayload, payload)
		}
	}
	return id, nil
}
