package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is any one of Request, Notification, Response once classified.
type Envelope interface {
	isEnvelope()
}

func (*Request) isEnvelope()      {}
func (*Notification) isEnvelope() {}
func (*Response) isEnvelope()     {}

// Batch is a non-empty sequence of envelopes (spec §4.2: "Batch must be
// non-empty"). A zero-length Batch is never produced by Parse; it is
// rejected during validation instead.
type Batch []Envelope

// ParseResult is the outcome of Parse: either a single Envelope, or a
// Batch, never both.
type ParseResult struct {
	Single Envelope
	Batch  Batch
}

// ErrorResponse builds a Response carrying the given JSON-RPC error, with
// the supplied id (use NewIntID or NewStringID; pass a zero ID for parse
// errors per spec: "a single parse-error response with id null").
func ErrorResponse(id ID, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// Parse decodes a single JSON-RPC message (request, notification, response,
// or a non-empty batch of these) from raw bytes. It never panics: malformed
// input yields an error, and the caller is expected to reply with
// ErrorResponse(ID{}, CodeParseError, ...) per spec §4.2.
func Parse(data []byte) (ParseResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ParseResult{}, fmt.Errorf("jsonrpc: empty message")
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return ParseResult{}, fmt.Errorf("jsonrpc: invalid batch: %w", err)
		}
		if len(raws) == 0 {
			return ParseResult{}, fmt.Errorf("jsonrpc: batch must be non-empty")
		}
		batch := make(Batch, 0, len(raws))
		for _, raw := range raws {
			env, err := parseOne(raw)
			if err != nil {
				return ParseResult{}, err
			}
			batch = append(batch, env)
		}
		return ParseResult{Batch: batch}, nil
	}

	env, err := parseOne(trimmed)
	if err != nil {
		return ParseResult{}, err
	}
	return ParseResult{Single: env}, nil
}

func parseOne(raw json.RawMessage) (Envelope, error) {
	var rm rawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, fmt.Errorf("jsonrpc: %w", err)
	}
	if rm.JSONRPC != Version {
		return nil, fmt.Errorf("jsonrpc: invalid_request: jsonrpc must be %q, got %q", Version, rm.JSONRPC)
	}

	switch {
	case rm.Result != nil || rm.Error != nil:
		if rm.Result != nil && rm.Error != nil {
			return nil, fmt.Errorf("jsonrpc: invalid_request: response must not carry both result and error")
		}
		if rm.ID == nil {
			return nil, fmt.Errorf("jsonrpc: invalid_request: response missing id")
		}
		var id ID
		if err := id.UnmarshalJSON(*rm.ID); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid_request: %w", err)
		}
		return &Response{JSONRPC: rm.JSONRPC, ID: id, Result: rm.Result, Error: rm.Error}, nil

	case rm.Method != nil:
		if rm.ID == nil {
			return &Notification{JSONRPC: rm.JSONRPC, Method: *rm.Method, Params: rm.Params}, nil
		}
		var id ID
		if err := id.UnmarshalJSON(*rm.ID); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid_request: %w", err)
		}
		if id.IsZero() {
			return nil, fmt.Errorf("jsonrpc: invalid_request: request id must not be null")
		}
		return &Request{JSONRPC: rm.JSONRPC, ID: id, Method: *rm.Method, Params: rm.Params}, nil

	default:
		return nil, fmt.Errorf("jsonrpc: invalid_request: unrecognized message shape")
	}
}

// Encode serializes any Envelope or Batch to its wire form.
func Encode(v interface{}) ([]byte, error) {
	switch msg := v.(type) {
	case Batch:
		return json.Marshal([]Envelope(msg))
	default:
		return json.Marshal(v)
	}
}

// HandleBatch implements the spec's batch response rule: one response per
// request in the batch, in order, with notifications omitted; responses
// themselves (if a server ever receives one) are ignored for response
// purposes. respond is called once per Request, in batch order, with the
// Request's params still raw JSON.
func HandleBatch(batch Batch, respond func(*Request) *Response) []*Response {
	responses := make([]*Response, 0, len(batch))
	for _, env := range batch {
		req, ok := env.(*Request)
		if !ok {
			continue
		}
		responses = append(responses, respond(req))
	}
	return responses
}
