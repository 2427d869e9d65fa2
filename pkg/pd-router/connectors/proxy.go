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

package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
)

// PDConnector executes the prefill-decode flow for one request: the wrapped
// body goes to both workers, the prefill response is drained (the KV handoff
// happens worker-to-worker through the bootstrap metadata), and the decode
// response streams back to the client.
type PDConnector struct {
	name string
}

func NewPDConnector() *PDConnector {
	return &PDConnector{
		name: "bootstrap",
	}
}

func (p *PDConnector) Name() string {
	return p.name
}

func (p *PDConnector) Proxy(c *gin.Context, wrapped map[string]interface{}, prefillURL, decodeURL string) (int, error) {
	body, err := json.Marshal(wrapped)
	if err != nil {
		return 0, err
	}

	prefillReq := cloneRequest(c.Request, body)
	if err := p.prefill(prefillReq, prefillURL); err != nil {
		return 0, err
	}

	decodeReq := cloneRequest(c.Request, body)
	return p.decode(c, decodeReq, decodeURL)
}

// prefill sends the prefill request and drains the response; its output is
// not forwarded to the client.
func (p *PDConnector) prefill(req *http.Request, prefillURL string) error {
	if err := retarget(req, prefillURL); err != nil {
		return err
	}
	klog.V(4).Infof("%s prefill: sending to %s", p.name, req.URL.String())

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return wrapTransportError(err, prefillURL, "prefill request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &common.NetworkError{Message: fmt.Sprintf("prefill request failed with status %d", resp.StatusCode)}
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// decode sends the decode request and streams the response to the client.
func (p *PDConnector) decode(c *gin.Context, req *http.Request, decodeURL string) (int, error) {
	if err := retarget(req, decodeURL); err != nil {
		return 0, err
	}
	klog.V(4).Infof("%s decode: sending to %s", p.name, req.URL.String())

	return streamProxy(c, req, decodeURL)
}

// ProxyDirect forwards a request body to a single worker and streams the
// response back; this is the aggregated-mode dispatch path.
func ProxyDirect(c *gin.Context, body []byte, workerURL string) (int, error) {
	req := cloneRequest(c.Request, body)
	if err := retarget(req, workerURL); err != nil {
		return 0, err
	}
	return streamProxy(c, req, workerURL)
}

// streamProxy performs the round trip and copies the upstream response to
// the client as it arrives, so token streams flush incrementally.
func streamProxy(c *gin.Context, req *http.Request, workerURL string) (int, error) {
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return 0, wrapTransportError(err, workerURL, "upstream request failed")
	}
	defer resp.Body.Close()

	header := c.Writer.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				return resp.StatusCode, writeErr
			}
			c.Writer.Flush()
		}
		if readErr == io.EOF {
			return resp.StatusCode, nil
		}
		if readErr != nil {
			return resp.StatusCode, readErr
		}
	}
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return clone
}

func retarget(req *http.Request, workerURL string) error {
	target, err := url.Parse(workerURL)
	if err != nil {
		return &common.InvalidConfigurationError{Reason: "bad worker url: " + workerURL}
	}
	req.URL.Scheme = target.Scheme
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
	}
	req.URL.Host = target.Host
	req.Host = target.Host
	return nil
}

func wrapTransportError(err error, workerURL, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &common.TimeoutError{URL: workerURL, Err: err}
	}
	return &common.NetworkError{Message: message, Err: err}
}
