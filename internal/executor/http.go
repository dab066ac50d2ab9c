package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/runner"
	"github.com/alanmeadows/relay/internal/session"
)

// HTTP posts each input through curl. The request body is cfg.BodyTemplate
// with the input written at cfg.InputPath; with no template the body is
// {"<input path>": input}. When cfg.Form is set the request is a multipart
// form instead and the input is sent as the field named by cfg.InputPath.
func HTTP(cfg config.HTTPConfig, opts runner.Options, sync bool) (session.Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("http executor requires executor.http.url")
	}
	form := len(cfg.Form) > 0
	if form && cfg.BodyTemplate != "" {
		return nil, errors.New("executor.http.form cannot be combined with executor.http.body_template")
	}
	template := cfg.BodyTemplate
	if template == "" {
		template = "{}"
	}
	if !gjson.Valid(template) {
		return nil, fmt.Errorf("executor.http.body_template is not valid JSON")
	}
	path := cfg.InputPath
	if path == "" {
		path = "input"
	}

	headers := append([]string(nil), cfg.Headers...)
	if !form && !hasHeader(headers, "Content-Type") {
		headers = append(headers, "Content-Type: application/json")
	}
	if cfg.APIKey != "" {
		headers = append(headers, "Authorization: Bearer "+cfg.APIKey)
	}

	return func(input string, c *session.Context) {
		req := runner.HTTPRequest{
			URL:     cfg.URL,
			Headers: headers,
			Timeout: cfg.Timeout,
			Proxy:   cfg.Proxy,
		}
		if form {
			req.Form = cfg.Form
			req.FormStrings = []string{path + "=" + input}
		} else {
			body, err := sjson.Set(template, path, input)
			if err != nil {
				fail(c, fmt.Errorf("building request body: %w", err))
				return
			}
			req.Body = json.RawMessage(body)
		}
		argv, cleanup, err := req.Command()
		if err != nil {
			fail(c, err)
			return
		}
		run(c, argv, opts, sync, cleanup)
	}, nil
}

func hasHeader(headers []string, name string) bool {
	for _, h := range headers {
		if key, _, ok := strings.Cut(h, ":"); ok && strings.EqualFold(strings.TrimSpace(key), name) {
			return true
		}
	}
	return false
}
