package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
)

// DefaultInlineMaxBytes bounds the base64-encoded inline payload.
const DefaultInlineMaxBytes = 20 << 20

// InlineStrategy embeds media in the inference request.
type InlineStrategy struct {
	maxEncoded int
}

// NewInlineStrategy creates an inline strategy; maxEncoded <= 0 uses DefaultInlineMaxBytes.
func NewInlineStrategy(maxEncoded int) *InlineStrategy {
	if maxEncoded <= 0 {
		maxEncoded = DefaultInlineMaxBytes
	}
	return &InlineStrategy{maxEncoded: maxEncoded}
}

// Name implements Strategy.
func (s *InlineStrategy) Name() Kind { return KindInline }

// Deliver implements Strategy. The bytes are base64-encoded on the wire by the model client.
func (s *InlineStrategy) Deliver(_ context.Context, data []byte, mimeType string) (*Payload, error) {
	if n := base64.StdEncoding.EncodedLen(len(data)); n > s.maxEncoded {
		return nil, fmt.Errorf("%w: %d encoded bytes, limit %d", ErrTooLarge, n, s.maxEncoded)
	}
	return &Payload{Kind: KindInline, MIMEType: mimeType, Data: data}, nil
}
