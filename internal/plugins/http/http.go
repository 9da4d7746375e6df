// Package httpplugin sends HTTP requests from test steps. Sessions hold a
// client configured with a base URL, timeout and default headers.
package httpplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Name is the plugin name steps lease sessions under.
const Name = "http"

// ErrorType names transport failures for expected-exception matching.
const ErrorType = "HTTPError"

// maxBodyBytes caps how much of a response body is kept.
const maxBodyBytes = 4 << 20

const defaultTimeout = 30 * time.Second

// Arguments configure every session.
type Arguments struct {
	BaseURL string            `yaml:"base-url" validate:"omitempty,url"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
	Headers map[string]string `yaml:"headers"`
}

type httpPlugin struct {
	plugin.Base
	args Arguments
}

// New creates a new http plugin.
func New() plugin.Plugin {
	return &httpPlugin{}
}

var (
	_ plugin.Plugin  = (*httpPlugin)(nil)
	_ steps.Provider = (*httpPlugin)(nil)
)

func (p *httpPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		APIVersion:  "1.x",
		Description: "Sends HTTP requests and checks responses.",
	}
}

func (p *httpPlugin) ArgumentType() any {
	return &Arguments{}
}

func (p *httpPlugin) Initialize(_ context.Context, init plugin.InitContext) error {
	if args, ok := init.Args.(*Arguments); ok && args != nil {
		p.args = *args
	}
	if p.args.Timeout == 0 {
		p.args.Timeout = defaultTimeout
	}
	return nil
}

type exchange struct {
	method string
	url    string
	status int
}

type session struct {
	client  *http.Client
	base    string
	headers map[string]string

	mu   sync.Mutex
	last *exchange
}

func (s *session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *session) record(x exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &x
}

func (p *httpPlugin) NewSession(context.Context) (plugin.Session, error) {
	headers := make(map[string]string, len(p.args.Headers))
	for k, v := range p.args.Headers {
		headers[k] = v
	}
	return &session{
		client:  &http.Client{Timeout: p.args.Timeout, Transport: http.DefaultTransport.(*http.Transport).Clone()},
		base:    p.args.BaseURL,
		headers: headers,
	}, nil
}

// HandleError logs the last request the failing worker sent.
func (p *httpPlugin) HandleError(_ context.Context, details plugin.ErrorDetails) {
	s, ok := details.Session.(*session)
	if !ok || details.Log == nil {
		return
	}
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return
	}
	details.Log.Info(fmt.Sprintf("last request %s %s returned %d", last.method, last.url, last.status))
}

func (p *httpPlugin) RegisterSteps(r *steps.Registry) error {
	if err := r.RegisterStep("http-request", Name, "send a request and store status, headers and body", steps.StepFunc(requestStep)); err != nil {
		return err
	}
	return r.RegisterValidation("http-status", Name, "stored response has the expected status", steps.ValidationFunc(statusValidation))
}

// requestStep sends method (default GET) to url, resolved against the
// session base URL. A map or list body is sent as JSON. The response is
// stored under attribute (default "response") as {status, headers, body};
// JSON bodies are decoded.
func requestStep(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	raw, err := sc.Session(ctx, Name)
	if err != nil {
		return err
	}
	s, ok := raw.(*session)
	if !ok {
		return autoflowerrors.NewPluginError(Name, fmt.Errorf("unexpected session type %T", raw))
	}

	target, err := inv.Params.RequireString("url")
	if err != nil {
		return err
	}
	full, err := resolveURL(s.base, target)
	if err != nil {
		return err
	}
	method := strings.ToUpper(inv.Params.String("method", http.MethodGet))

	body, contentType, err := encodeBody(inv.Params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	extra, err := inv.Params.StringMap("headers")
	if err != nil {
		return err
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	sc.Log().Info(fmt.Sprintf("%s %s", method, full))
	resp, err := s.client.Do(req)
	if err != nil {
		s.record(exchange{method: method, url: full})
		return steps.NewTypedError(ErrorType, "%s %s: %v", method, full, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return steps.NewTypedError(ErrorType, "read response body: %v", err)
	}
	s.record(exchange{method: method, url: full, status: resp.StatusCode})
	sc.Log().Info(fmt.Sprintf("response %d (%d bytes)", resp.StatusCode, len(data)))

	sc.SetAttribute(inv.Params.String("attribute", "response"), map[string]any{
		"status":  resp.StatusCode,
		"headers": flattenHeaders(resp.Header),
		"body":    decodeBody(resp.Header.Get("Content-Type"), data),
	})
	return nil
}

func statusValidation(_ context.Context, sc steps.Context, inv steps.Invocation) (bool, error) {
	want, err := inv.Params.Int("expected", http.StatusOK)
	if err != nil {
		return false, err
	}
	name := inv.Params.String("attribute", "response")
	stored, ok := sc.Attribute(name)
	if !ok {
		return false, fmt.Errorf("no response stored in attribute %q", name)
	}
	response, ok := stored.(map[string]any)
	if !ok {
		return false, fmt.Errorf("attribute %q is not a response (got %T)", name, stored)
	}
	got, _ := response["status"].(int)
	if got != want {
		sc.Log().Warn(fmt.Sprintf("expected status %d, got %d", want, got))
	}
	return got == want, nil
}

func resolveURL(base, target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if ref.IsAbs() || base == "" {
		return ref.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	return baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

func encodeBody(params steps.Params) (io.Reader, string, error) {
	v, ok := params.Value("body")
	if !ok || v == nil {
		return nil, "", nil
	}
	switch b := v.(type) {
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func decodeBody(contentType string, data []byte) any {
	if strings.Contains(contentType, "json") {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			return decoded
		}
	}
	return string(data)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = strings.Join(h.Values(k), ", ")
	}
	return out
}
