// Package adminclient is the boundary collaborator the Persistence Binder
// calls to load and write back authoritative HTML, per the admin service
// contract.
package adminclient

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ActionSet is the {read, write} subset allowed to a credential, as parsed
// from the X-da-actions response header ("<action>=<policy>,...").
type ActionSet map[string]string

// ParseActions parses an X-da-actions (or X-auth-actions) header value.
func ParseActions(header string) ActionSet {
	actions := ActionSet{}
	if header == "" {
		return actions
	}
	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		actions[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return actions
}

// ReadOnly reports whether a connection holding this action set should be
// treated as read-only: neither write=allow nor read=allow is granted.
func (a ActionSet) ReadOnly() bool {
	return a["write"] != "allow" && a["read"] != "allow"
}

// Client issues the GET/PUT calls the Persistence Binder needs against the
// admin service. Credentials are supplied per call rather than baked into
// the client, since a Room may serve many connections with distinct
// credentials.
type Client struct {
	httpClient *http.Client
}

// New returns a Client using http.DefaultClient's transport settings.
func New() *Client {
	return &Client{httpClient: &http.Client{}}
}

// GetResult is the outcome of a successful GET, after status-specific
// interpretation.
type GetResult struct {
	StatusCode  int
	NotModified bool
	Body        []byte
	ETag        string
	Actions     ActionSet
}

// ErrFatal wraps a non-2xx, non-304 admin response; the caller tears down
// the Room on this error per §4.4.1 step 3.
var ErrFatal = errors.New("adminclient: fatal response from admin service")

// Get issues the §4.4.1 step 2 GET. ifNoneMatch may be empty.
func (c *Client) Get(ctx context.Context, url, credential, ifNoneMatch string) (*GetResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: build GET request")
	}
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: GET transport failure")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &GetResult{StatusCode: resp.StatusCode, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GetResult{StatusCode: resp.StatusCode}, errors.Wrapf(ErrFatal, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: read GET body")
	}

	return &GetResult{
		StatusCode: resp.StatusCode,
		Body:       body,
		ETag:       resp.Header.Get("ETag"),
		Actions:    ParseActions(resp.Header.Get("X-da-actions")),
	}, nil
}

// PutResult is the outcome of a PUT.
type PutResult struct {
	StatusCode int
}

// Put issues the §4.4.2 step 2c write-back PUT: a multipart/form-data body
// with field "data" carrying html as text/html.
func (c *Client) Put(ctx context.Context, url, html, authorization string) (*PutResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="data"; filename="data"`}
	header["Content-Type"] = []string{"text/html"}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: create multipart field")
	}
	if _, err := part.Write([]byte(html)); err != nil {
		return nil, errors.Wrap(err, "adminclient: write multipart body")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "adminclient: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: build PUT request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("If-Match", "*")
	req.Header.Set("X-DA-Initiator", "collab")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "adminclient: PUT transport failure")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return &PutResult{StatusCode: resp.StatusCode}, nil
}

// MergeAuthorization builds the §4.4.2 step 2c Authorization header: the
// comma-separated, de-duplicated set of credentials from the given
// connections, in their original order. Returns "" if creds is empty.
func MergeAuthorization(creds []string) string {
	seen := map[string]bool{}
	var out []string
	for _, c := range creds {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return strings.Join(out, ",")
}
