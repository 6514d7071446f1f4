package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	res, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	req, ok := res.Single.(*Request)
	require.True(t, ok)
	require.Equal(t, "tools/list", req.Method)
	require.Equal(t, "1", req.ID.String())
}

func TestParseNotification(t *testing.T) {
	res, err := Parse([]byte(`{"jsonrpc":"2.0","method":"progress","params":{"pct":50}}`))
	require.NoError(t, err)
	notif, ok := res.Single.(*Notification)
	require.True(t, ok)
	require.Equal(t, "progress", notif.Method)
}

func TestParseResponseResultAndErrorMutuallyExclusive(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-32600,"message":"x"}}`))
	require.Error(t, err)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"1.0","id":1,"method":"x"}`))
	require.Error(t, err)
}

func TestParseRejectsNullRequestID(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":null,"method":"x"}`))
	require.Error(t, err)
}

func TestParseRejectsEmptyBatch(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`not json at all {{{`))
	require.Error(t, err)
}

func TestParseBatchMixed(t *testing.T) {
	res, err := Parse([]byte(`[
		{"jsonrpc":"2.0","id":1,"method":"a"},
		{"jsonrpc":"2.0","method":"notify"},
		{"jsonrpc":"2.0","id":2,"method":"b"}
	]`))
	require.NoError(t, err)
	require.Len(t, res.Batch, 3)

	responses := HandleBatch(res.Batch, func(r *Request) *Response {
		return &Response{JSONRPC: Version, ID: r.ID, Result: json.RawMessage(`{}`)}
	})
	require.Len(t, responses, 2, "notifications must be omitted from batch responses")
}

func TestRoundTripRequest(t *testing.T) {
	original := &Request{JSONRPC: Version, ID: NewIntID(42), Method: "tools/call", Params: json.RawMessage(`{"name":"x"}`)}
	encoded, err := Encode(original)
	require.NoError(t, err)

	res, err := Parse(encoded)
	require.NoError(t, err)
	decoded := res.Single.(*Request)
	require.Equal(t, original.Method, decoded.Method)
	require.True(t, original.ID.Equal(decoded.ID))
	require.JSONEq(t, string(original.Params), string(decoded.Params))
}

func TestRoundTripResponseWithStringID(t *testing.T) {
	original := &Response{JSONRPC: Version, ID: NewStringID("abc"), Result: json.RawMessage(`42`)}
	encoded, err := Encode(original)
	require.NoError(t, err)

	res, err := Parse(encoded)
	require.NoError(t, err)
	decoded := res.Single.(*Response)
	require.True(t, original.ID.Equal(decoded.ID))
}

func TestErrorResponseHasNullIDOnParseFailure(t *testing.T) {
	resp := ErrorResponse(ID{}, CodeParseError, "parse error")
	require.True(t, resp.ID.IsZero())
	require.Equal(t, CodeParseError, resp.Error.Code)
}

func TestIDGeneratorProducesUniqueIDs(t *testing.T) {
	gen := NewIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		require.False(t, seen[id.String()], "id generator must never repeat within a session")
		seen[id.String()] = true
	}
}
