package agui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/munnerz/goautoneg"
)

const (
	ContentTypeSSE    = "text/event-stream"
	ContentTypeNDJSON = "application/x-ndjson"
)

var offers = []string{ContentTypeSSE, ContentTypeNDJSON}

// Encoder frames events in the encoding negotiated from an Accept header.
type Encoder struct {
	contentType string
}

// NewEncoder picks an encoding for the given Accept header. Anything that does
// not select newline-delimited JSON gets server-sent events.
func NewEncoder(accept string) *Encoder {
	ct := goautoneg.Negotiate(accept, offers)
	if ct == "" {
		ct = ContentTypeSSE
	}
	return &Encoder{contentType: ct}
}

// ContentType returns the media type of the encoded stream.
func (e *Encoder) ContentType() string {
	return e.contentType
}

// Encode frames a single event.
func (e *Encoder) Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", evt.Type(), err)
	}

	if e.contentType == ContentTypeNDJSON {
		return append(data, '\n'), nil
	}

	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}

// Retry frames the reconnect-interval directive sent before the first event.
func (e *Encoder) Retry(d time.Duration) []byte {
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	if e.contentType == ContentTypeNDJSON {
		return []byte(`{"type":"RETRY","retryMs":` + ms + "}\n")
	}
	return []byte("retry: " + ms + "\n\n")
}
