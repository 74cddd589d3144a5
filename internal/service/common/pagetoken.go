// Package common holds small helpers shared by the API surface.
package common

import (
	"encoding/base64"
	"fmt"
)

// EncodePageToken turns an opaque paging cursor into a URL-safe token
// suitable for query parameters.
func EncodePageToken(cursor []byte) string {
	return base64.RawURLEncoding.EncodeToString(cursor)
}

// DecodePageToken reverses EncodePageToken.
func DecodePageToken(token string) ([]byte, error) {
	cursor, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("page token: %w", err)
	}
	return cursor, nil
}
