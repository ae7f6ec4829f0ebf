package ingest

import "errors"

// ErrInvalidPayload is returned when an inbound message cannot be decoded.
var ErrInvalidPayload = errors.New("ingest: invalid payload")
