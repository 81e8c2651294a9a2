// Package freebox is a client for the Freebox OS control API: the JSON
// request/response surface plus the WebSocket channels (console, VNC, event
// stream) used by the VM subsystem.
package freebox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SessionHeader carries the session token on every authenticated request,
// HTTP and WebSocket alike.
const SessionHeader = "X-Fbx-App-Auth"

// Client talks to a single Freebox. The zero session means unauthenticated;
// call SetSession once a session token has been established.
type Client struct {
	base     string
	http     *http.Client
	insecure bool
	session  string
	log      zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger routes client logs to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithInsecureTransport disables TLS certificate verification. The Freebox
// serves its local API with a certificate that cannot be chain-verified, so
// the trade-off is made explicit here instead of being an implicit default.
func WithInsecureTransport() Option {
	return func(c *Client) { c.insecure = true }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the API rooted at base,
// e.g. "https://mafreebox.freebox.fr/api/v8".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.http = &http.Client{Timeout: 15 * time.Second, Transport: transport}
	}
	return c
}

// SetSession attaches a session token to all subsequent requests.
func (c *Client) SetSession(token string) { c.session = token }

// Session returns the current session token, if any.
func (c *Client) Session() string { return c.session }

// envelope is the uniform Freebox API response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	Msg       string          `json:"msg"`
	ErrorCode string          `json:"error_code"`
}

// request performs one API call. body is JSON-encoded when non-nil; the
// envelope result is decoded into out when non-nil. HTTP 403 maps to
// ErrForbidden, a success=false envelope to *APIError.
func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", endpoint, ErrForbidden)
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	if !env.Success {
		return &APIError{Endpoint: endpoint, Code: env.ErrorCode, Msg: env.Msg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", endpoint, err)
		}
	}
	c.log.Debug().Str("endpoint", endpoint).Str("method", method).Msg("api request ok")
	return nil
}

// Authorization sub-protocol.

// Authorize asks the Freebox owner to approve this application. The returned
// grant must be persisted before polling: a crash mid-approval must not force
// a second authorization round.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeGrant, error) {
	var grant AuthorizeGrant
	err := c.request(ctx, http.MethodPost, "/login/authorize/", req, &grant)
	return grant, err
}

// AuthorizeTrack polls the state of an authorization request. Once granted,
// the same endpoint also serves the login challenge.
func (c *Client) AuthorizeTrack(ctx context.Context, trackID string) (AuthorizeTrack, error) {
	var track AuthorizeTrack
	err := c.request(ctx, http.MethodGet, "/login/authorize/"+url.PathEscape(trackID), nil, &track)
	return track, err
}

// OpenSession exchanges the challenge response for a session token.
// ErrForbidden here means the persisted app token is no longer valid.
func (c *Client) OpenSession(ctx context.Context, appID, password string) (string, error) {
	var result struct {
		SessionToken string `json:"session_token"`
	}
	err := c.request(ctx, http.MethodPost, "/login/session/", map[string]string{
		"app_id":   appID,
		"password": password,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.SessionToken, nil
}

// VM subsystem.

// VMs lists all virtual machines.
func (c *Client) VMs(ctx context.Context) ([]VM, error) {
	var vms []VM
	err := c.request(ctx, http.MethodGet, "/vm/", nil, &vms)
	return vms, err
}

// VM fetches one virtual machine record.
func (c *Client) VM(ctx context.Context, id int) (VM, error) {
	var vm VM
	err := c.request(ctx, http.MethodGet, "/vm/"+strconv.Itoa(id), nil, &vm)
	return vm, err
}

// CreateVM creates a virtual machine from the given configuration and returns
// the stored record.
func (c *Client) CreateVM(ctx context.Context, config map[string]any) (VM, error) {
	var vm VM
	err := c.request(ctx, http.MethodPost, "/vm/", config, &vm)
	return vm, err
}

// DeleteVM removes a virtual machine record. The disk image is not touched.
func (c *Client) DeleteVM(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodDelete, "/vm/"+strconv.Itoa(id), nil, nil)
}

// Start boots a virtual machine.
func (c *Client) Start(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodPost, "/vm/"+strconv.Itoa(id)+"/start", nil, nil)
}

// PowerButton sends an ACPI power-button press for a graceful shutdown.
func (c *Client) PowerButton(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodPost, "/vm/"+strconv.Itoa(id)+"/powerbutton", nil, nil)
}

// Stop forcibly stops a virtual machine.
func (c *Client) Stop(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodPost, "/vm/"+strconv.Itoa(id)+"/stop", nil, nil)
}

// Restart resets a virtual machine.
func (c *Client) Restart(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodPost, "/vm/"+strconv.Itoa(id)+"/restart", nil, nil)
}

// SystemInfo reports VM host resources.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	err := c.request(ctx, http.MethodGet, "/vm/info/", nil, &info)
	return info, err
}

// Distros lists the distributions installable from the Freebox catalog.
func (c *Client) Distros(ctx context.Context) ([]Distro, error) {
	var distros []Distro
	err := c.request(ctx, http.MethodGet, "/vm/distros/", nil, &distros)
	return distros, err
}

// Disk images.

// DiskInfo inspects a disk image. diskPath is base64-encoded.
func (c *Client) DiskInfo(ctx context.Context, diskPath string) (DiskInfo, error) {
	var info DiskInfo
	err := c.request(ctx, http.MethodPost, "/vm/disk/info", map[string]string{
		"disk_path": diskPath,
	}, &info)
	return info, err
}

// DiskCreate starts an asynchronous disk image creation and returns the task
// to correlate against the event stream.
func (c *Client) DiskCreate(ctx context.Context, req DiskCreateRequest) (DiskTask, error) {
	var task DiskTask
	err := c.request(ctx, http.MethodPost, "/vm/disk/create", req, &task)
	return task, err
}

// DiskResize starts an asynchronous disk image resize and returns the task
// to correlate against the event stream.
func (c *Client) DiskResize(ctx context.Context, req DiskResizeRequest) (DiskTask, error) {
	var task DiskTask
	err := c.request(ctx, http.MethodPost, "/vm/disk/resize", req, &task)
	return task, err
}

// DeleteDiskTask acknowledges a finished disk task so it does not linger in
// the task list.
func (c *Client) DeleteDiskTask(ctx context.Context, id int64) error {
	return c.request(ctx, http.MethodDelete, "/vm/disk/task/"+strconv.FormatInt(id, 10), nil, nil)
}

// RemoveFiles deletes files on the Freebox filesystem. Paths are
// base64-encoded.
func (c *Client) RemoveFiles(ctx context.Context, paths []string) error {
	return c.request(ctx, http.MethodPost, "/fs/rm/", map[string][]string{
		"files": paths,
	}, nil)
}

// Download manager.

// AddDownload submits a download to the Freebox download manager and returns
// the task id. The endpoint takes form-encoded parameters, unlike the rest of
// the API.
func (c *Client) AddDownload(ctx context.Context, dl DownloadRequest) (int64, error) {
	form := url.Values{}
	form.Set("download_url", dl.DownloadURL)
	if dl.DownloadDir != "" {
		form.Set("download_dir", dl.DownloadDir)
	}
	if dl.Filename != "" {
		form.Set("filename", dl.Filename)
	}
	if dl.Hash != "" {
		form.Set("hash", dl.Hash)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/downloads/add",
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("/downloads/add: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("/downloads/add: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusForbidden {
		return 0, fmt.Errorf("/downloads/add: %w", ErrForbidden)
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("/downloads/add: decode response: %w", err)
	}
	if !env.Success {
		return 0, &APIError{Endpoint: "/downloads/add", Code: env.ErrorCode, Msg: env.Msg}
	}
	var result struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, fmt.Errorf("/downloads/add: decode result: %w", err)
	}
	return result.ID, nil
}

// DownloadTask fetches the current state of a download task.
func (c *Client) DownloadTask(ctx context.Context, id int64) (DownloadTask, error) {
	var task DownloadTask
	err := c.request(ctx, http.MethodGet, "/downloads/"+strconv.FormatInt(id, 10), nil, &task)
	return task, err
}

// DeleteDownload removes a download task but keeps the downloaded file.
func (c *Client) DeleteDownload(ctx context.Context, id int64) error {
	return c.request(ctx, http.MethodDelete, "/downloads/"+strconv.FormatInt(id, 10), nil, nil)
}

// EraseDownload removes a download task along with its partially or fully
// downloaded file.
func (c *Client) EraseDownload(ctx context.Context, id int64) error {
	return c.request(ctx, http.MethodDelete, "/downloads/"+strconv.FormatInt(id, 10)+"/erase", nil, nil)
}

// DialWS opens a WebSocket channel on the API, carrying the session header
// and offering the given subprotocols. It returns the connection and the
// subprotocol the Freebox selected (empty when none was negotiated).
func (c *Client) DialWS(ctx context.Context, path string, subprotocols []string) (*websocket.Conn, string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", path, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	wsURL := u.String() + path

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     subprotocols,
	}
	if c.insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	header := http.Header{}
	if c.session != "" {
		header.Set(SessionHeader, c.session)
	}

	conn, res, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusForbidden {
			return nil, "", fmt.Errorf("dial %s: %w", path, ErrForbidden)
		}
		return nil, "", fmt.Errorf("dial %s: %w", path, err)
	}
	c.log.Debug().Str("url", wsURL).Str("subprotocol", conn.Subprotocol()).Msg("websocket channel open")
	return conn, conn.Subprotocol(), nil
}
