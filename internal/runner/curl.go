package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DefaultHTTPTimeout is the curl --max-time used when a request sets none.
const DefaultHTTPTimeout = 600

// HTTPRequest describes a request executed through curl. Supplying a Body
// makes curl send a POST.
type HTTPRequest struct {
	URL     string
	Headers []string
	// Form holds multipart fields in curl's "name=value" syntax.
	Form []string
	// FormStrings are multipart fields sent literally with --form-string,
	// so a value starting with "@" or "<" is never read as a file.
	FormStrings []string
	// Body is encoded as JSON and sent from a temporary file. curl cannot
	// send a body and a form in one request.
	Body any
	// Timeout in seconds. Zero uses DefaultHTTPTimeout.
	Timeout int
	Proxy   string
}

// Command builds the curl argv for the request. The returned cleanup
// removes the temporary body file and must be called once the command
// has finished.
func (r HTTPRequest) Command() ([]string, func(), error) {
	cleanup := func() {}
	if r.URL == "" {
		return nil, cleanup, fmt.Errorf("request has no URL")
	}
	if r.Body != nil && (len(r.Form) > 0 || len(r.FormStrings) > 0) {
		return nil, cleanup, fmt.Errorf("request has both a body and form fields")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	argv := []string{"curl", r.URL, "--fail-with-body", "--no-progress-meter", "-m", strconv.Itoa(timeout)}
	if r.Proxy != "" {
		argv = append(argv, "--proxy", r.Proxy)
	}
	for _, h := range r.Headers {
		argv = append(argv, "-H", h)
	}
	for _, f := range r.Form {
		argv = append(argv, "-F", f)
	}
	for _, f := range r.FormStrings {
		argv = append(argv, "--form-string", f)
	}

	if r.Body != nil {
		path, err := writeBody(r.Body)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = os.Remove(path) }
		argv = append(argv, "-d", "@"+path)
	}

	return argv, cleanup, nil
}

func writeBody(body any) (string, error) {
	var data []byte
	switch b := body.(type) {
	case json.RawMessage:
		data = b
	default:
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encoding request body: %w", err)
		}
	}

	f, err := os.CreateTemp("", "relay-body-*.json")
	if err != nil {
		return "", fmt.Errorf("creating request body file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing request body: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing request body file: %w", err)
	}
	return f.Name(), nil
}
