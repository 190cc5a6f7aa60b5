// Package mcp serves the bookshelf tools over the Model Context Protocol.
//
// # Transport
//
// The endpoint is the go-sdk Streamable HTTP handler. JSON-RPC framing,
// sessions and protocol version negotiation are handled by the SDK.
//
// # Authentication
//
// Every request except a CORS preflight must carry
//
//	Authorization: Bearer <access token>
//
// issued by the gateway's OAuth provider. The verifier returns the grant's
// props, which hold the GitHub identity established at callback time. A
// missing or unknown token gets 401 with a resource_metadata pointer so
// clients can discover the authorization server.
//
// # Tool execution
//
// tools/list returns the dispatcher's four tools. tools/call runs the named
// tool on the caller's actor:
//
//	{
//	  "jsonrpc": "2.0",
//	  "id": 2,
//	  "method": "tools/call",
//	  "params": {"name": "rateBook", "arguments": {"title": "Dune", "author": "Frank Herbert", "rating": 5}}
//	}
//
// Replies carry the human-readable text as text content and the same data as
// structuredContent. Bad arguments come back as a result with isError set,
// never as a JSON-RPC error.
//
// # CORS
//
// Responses allow any origin with methods GET, POST and OPTIONS and headers
// Content-Type and Authorization, cached for a day. OPTIONS is answered 204
// before authentication.
package mcp
