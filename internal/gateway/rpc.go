package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxRPCPeekBytes caps how much of a request body is buffered for JSON-RPC
// inspection. Larger bodies proxy through with only transport-level auth.
const maxRPCPeekBytes = 1 << 20

// rpcCall is the MCP-relevant slice of a JSON-RPC request.
type rpcCall struct {
	Method      string
	ToolName    string
	ResourceURI string
	ID          string
}

type rpcEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	} `json:"params"`
}

// peekRPC inspects the request body for the JSON-RPC method and tool name,
// then restores the body so the proxy forwards it intact. Non-JSON bodies
// and GET requests yield an empty call.
func peekRPC(r *http.Request) (rpcCall, error) {
	if r.Body == nil || r.Method == http.MethodGet {
		return rpcCall{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCPeekBytes+1))
	if err != nil {
		return rpcCall{}, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) > maxRPCPeekBytes {
		return rpcCall{}, nil
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return rpcCall{}, nil
	}

	call := rpcCall{Method: env.Method, ResourceURI: env.Params.URI}
	if env.Method == "tools/call" {
		call.ToolName = env.Params.Name
	}
	if len(env.ID) > 0 {
		call.ID = strings.Trim(string(env.ID), `"`)
	}
	return call, nil
}
