package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// maxResponseSize bounds JSON responses; file bodies are streamed.
	maxResponseSize = 1 << 20

	defaultTimeout = 2 * time.Minute
)

// DialContextFn matches net.Dialer.DialContext.
type DialContextFn func(ctx context.Context, network, address string) (net.Conn, error)

// Client implements API over HTTP.
type Client struct {
	httpClient *http.Client
	scheme     string
}

// NewClient creates a relay client. When dial is nil connections are made
// directly, which is only useful against a local relay or in tests.
func NewClient(dial DialContextFn) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if dial != nil {
		transport.DialContext = dial
		transport.Proxy = nil
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: defaultTimeout},
		scheme:     "http",
	}
}

func (c *Client) url(props models.MailboxProperties, path string) string {
	return c.scheme + "://" + props.OnionAddress + path
}

func requireOwner(props models.MailboxProperties, op string) error {
	if !props.Owner {
		return fmt.Errorf("%s with non-owner properties: %w", op, mberrors.ErrInvariant)
	}

	return nil
}

// do sends a request and returns the response body for 2xx responses.
// The caller must close the body.
func (c *Client) do(ctx context.Context, method, url, token string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", mberrors.ErrInvariant)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%s %s: %v: %w", method, req.URL.Path, err, mberrors.ErrTransport)
	}

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()

		return nil, statusError(method, req.URL.Path, resp.StatusCode)
	}

	return resp, nil
}

// StatusError reports a non-2xx response. It unwraps to the taxonomy
// sentinel for the status code.
type StatusError struct {
	Method string
	Path   string
	Code   int
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// statusError maps a non-2xx status onto the error taxonomy.
func statusError(method, path string, status int) error {
	var kind error

	switch status {
	case http.StatusNotFound:
		kind = mberrors.ErrTolerable
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = mberrors.ErrPermanent
	default:
		kind = mberrors.ErrProtocol
	}

	return &StatusError{Method: method, Path: path, Code: status, kind: kind}
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// getJSON performs a GET and returns the validated JSON body.
func (c *Client) getJSON(ctx context.Context, props models.MailboxProperties, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(props, path), props.AuthToken, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readJSON(resp, path)
}

func readJSON(resp *http.Response, path string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %v: %w", path, err, mberrors.ErrTransport)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decoding response from %s: invalid JSON: %w", path, mberrors.ErrProtocol)
	}

	return body, nil
}

func parseVersions(v gjson.Result, path string) ([]models.Version, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("decoding response from %s: missing serverSupports: %w", path, mberrors.ErrProtocol)
	}

	var versions []models.Version

	for _, item := range v.Array() {
		major, minor := item.Get("major"), item.Get("minor")
		if major.Type != gjson.Number || minor.Type != gjson.Number || major.Int() < 0 || minor.Int() < 0 {
			return nil, fmt.Errorf("decoding response from %s: malformed version: %w", path, mberrors.ErrProtocol)
		}

		versions = append(versions, models.Version{Major: int(major.Int()), Minor: int(minor.Int())})
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("decoding response from %s: empty serverSupports: %w", path, mberrors.ErrProtocol)
	}

	return versions, nil
}

func (c *Client) Setup(ctx context.Context, props models.MailboxProperties) (models.MailboxProperties, error) {
	if err := requireOwner(props, "setup"); err != nil {
		return models.MailboxProperties{}, err
	}

	resp, err := c.do(ctx, http.MethodPut, c.url(props, "/setup"), props.AuthToken, nil, "")
	if err != nil {
		// The setup token is single use. Once redeemed the relay rejects it.
		if mberrors.Classify(err) == mberrors.KindPermanent {
			return models.MailboxProperties{}, fmt.Errorf("setup: %v: %w", err, mberrors.ErrAlreadyPaired)
		}

		return models.MailboxProperties{}, err
	}
	defer resp.Body.Close()

	body, err := readJSON(resp, "/setup")
	if err != nil {
		return models.MailboxProperties{}, err
	}

	token := gjson.GetBytes(body, "token")
	if token.Type != gjson.String || !models.IsValidID(token.Str) {
		return models.MailboxProperties{}, fmt.Errorf("decoding response from /setup: malformed token: %w", mberrors.ErrProtocol)
	}

	versions, err := parseVersions(gjson.GetBytes(body, "serverSupports"), "/setup")
	if err != nil {
		return models.MailboxProperties{}, err
	}

	return models.MailboxProperties{
		Owner:          true,
		OnionAddress:   props.OnionAddress,
		AuthToken:      token.Str,
		ServerSupports: versions,
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, props models.MailboxProperties) ([]models.Version, error) {
	if err := requireOwner(props, "status"); err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, props, "/status")
	if err != nil {
		return nil, err
	}

	return parseVersions(gjson.GetBytes(body, "serverSupports"), "/status")
}

func (c *Client) AddContact(ctx context.Context, props models.MailboxProperties, contact models.MailboxContact) error {
	if err := requireOwner(props, "add contact"); err != nil {
		return err
	}

	payload, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("marshalling contact: %v: %w", err, mberrors.ErrInvariant)
	}

	resp, err := c.do(ctx, http.MethodPost, c.url(props, "/contacts"), props.AuthToken, bytes.NewReader(payload), "application/json")
	if err != nil {
		if isStatus(err, http.StatusConflict) {
			return fmt.Errorf("contact %d already registered: %w", contact.ID, mberrors.ErrTolerable)
		}

		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) DeleteContact(ctx context.Context, props models.MailboxProperties, id models.ContactID) error {
	if err := requireOwner(props, "delete contact"); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodDelete, c.url(props, "/contacts/"+id.String()), props.AuthToken, nil, "")
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) ListContacts(ctx context.Context, props models.MailboxProperties) ([]models.ContactID, error) {
	if err := requireOwner(props, "list contacts"); err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, props, "/contacts")
	if err != nil {
		return nil, err
	}

	list := gjson.GetBytes(body, "contacts")
	if !list.IsArray() {
		return nil, fmt.Errorf("decoding response from /contacts: missing contacts: %w", mberrors.ErrProtocol)
	}

	var ids []models.ContactID

	for _, item := range list.Array() {
		if item.Type != gjson.Number || item.Int() < 1 {
			return nil, fmt.Errorf("decoding response from /contacts: malformed id: %w", mberrors.ErrProtocol)
		}

		ids = append(ids, models.ContactID(item.Int()))
	}

	return ids, nil
}

func (c *Client) AddFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	resp, err := c.do(ctx, http.MethodPost, c.url(props, "/files/"+string(folder)), props.AuthToken, f, "application/octet-stream")
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) ListFiles(ctx context.Context, props models.MailboxProperties, folder models.FolderID) ([]models.MailboxFile, error) {
	path := "/files/" + string(folder)

	body, err := c.getJSON(ctx, props, path)
	if err != nil {
		return nil, err
	}

	list := gjson.GetBytes(body, "files")
	if !list.IsArray() {
		return nil, fmt.Errorf("decoding response from %s: missing files: %w", path, mberrors.ErrProtocol)
	}

	var files []models.MailboxFile

	for _, item := range list.Array() {
		name, ts := item.Get("name"), item.Get("time")
		if name.Type != gjson.String || !models.IsValidID(name.Str) || ts.Type != gjson.Number || ts.Int() < 1 {
			return nil, fmt.Errorf("decoding response from %s: malformed file entry: %w", path, mberrors.ErrProtocol)
		}

		files = append(files, models.MailboxFile{Name: models.FileID(name.Str), Time: ts.Int()})
	}

	return files, nil
}

func (c *Client) GetFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, file models.FileID, dest string) error {
	resp, err := c.do(ctx, http.MethodGet, c.url(props, "/files/"+string(folder)+"/"+string(file)), props.AuthToken, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening download file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("downloading file: %v: %w", err, mberrors.ErrTransport)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing download file: %w", err)
	}

	return nil
}

func (c *Client) DeleteFile(ctx context.Context, props models.MailboxProperties, folder models.FolderID, file models.FileID) error {
	resp, err := c.do(ctx, http.MethodDelete, c.url(props, "/files/"+string(folder)+"/"+string(file)), props.AuthToken, nil, "")
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) ListFolders(ctx context.Context, props models.MailboxProperties) ([]models.FolderID, error) {
	if err := requireOwner(props, "list folders"); err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, props, "/folders")
	if err != nil {
		return nil, err
	}

	list := gjson.GetBytes(body, "folders")
	if !list.IsArray() {
		return nil, fmt.Errorf("decoding response from /folders: missing folders: %w", mberrors.ErrProtocol)
	}

	var folders []models.FolderID

	for _, item := range list.Array() {
		id := item.Get("id")
		if id.Type != gjson.String || !models.IsValidID(id.Str) {
			return nil, fmt.Errorf("decoding response from /folders: malformed folder id: %w", mberrors.ErrProtocol)
		}

		folders = append(folders, models.FolderID(id.Str))
	}

	return folders, nil
}
