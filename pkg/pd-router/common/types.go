/*
Copyright The InferFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package common

const (
	// SessionIDHeader carries the caller-provided session identifier used
	// for sticky routing. Header keys handed to the policy layer are
	// already lower-cased by the HTTP binding.
	SessionIDHeader = "x-session-id"

	// RequestIDHeader is propagated to prefill and decode workers so both
	// sides of a disaggregated request share one trace id.
	RequestIDHeader = "x-request-id"

	// SessionIDField is the request-body fallback for the session
	// identifier when no header is present.
	SessionIDField = "session_id"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest mirrors the fields of an inference request the router
// inspects. Requests are proxied as raw JSON maps; this struct documents the
// known fields and backs config-dump style debug output.
type GenerateRequest struct {
	// Text is used for direct prompt input (completion mode)
	Text string `json:"text,omitempty"`

	// Messages is used for chat conversation input (chat mode)
	Messages []Message `json:"messages,omitempty"`

	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}
