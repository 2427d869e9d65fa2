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

package plugins

import (
	"encoding/json"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
)

// affinityKey derives the sticky-routing key for a request. Priority order,
// highest first:
//
//  1. the x-session-id header value,
//  2. a session_id field in the parsed JSON body,
//  3. the raw body bytes.
//
// Exactly one signal is used: the highest-priority one that exists. Headers
// must already be lower-cased by the HTTP binding.
func affinityKey(body []byte, headers map[string]string) []byte {
	if sid, ok := headers[common.SessionIDHeader]; ok && sid != "" {
		return []byte(sid)
	}
	if sid := sessionIDFromBody(body); sid != "" {
		return []byte(sid)
	}
	return body
}

func sessionIDFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	sid, _ := parsed[common.SessionIDField].(string)
	return sid
}
