// Package flashclient talks to a flash server.
package flashclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BertoldVdb/spinor/flashserver"
	"github.com/BertoldVdb/spinor/spinor"
)

// ErrForbidden is returned when the credentials do not cover the chip or are
// read only.
var ErrForbidden = errors.New("credentials not valid for this request")

// ReadError is returned together with the data when the server could only
// partially read a range. Unread bytes are 0xff.
type ReadError struct {
	Msg string
}

func (e *ReadError) Error() string {
	return "partial read: " + e.Msg
}

func (e *ReadError) Unwrap() error {
	return spinor.ErrIgnorable
}

// RequestError is a request the server refused. It unwraps to the matching
// spinor error where the status code identifies one.
type RequestError struct {
	StatusCode int
	Status     string
	Msg        string
}

func (e *RequestError) Error() string {
	if e.Msg == "" {
		return "request error " + e.Status
	}
	return fmt.Sprintf("request error %s: %s", e.Status, e.Msg)
}

func (e *RequestError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		return spinor.ErrAddressOutOfRange
	case http.StatusBadRequest:
		return spinor.ErrProgrammer
	case http.StatusConflict:
		return spinor.ErrProtectionPersisted
	case http.StatusGatewayTimeout:
		return spinor.ErrTimeout
	case http.StatusServiceUnavailable:
		return spinor.ErrClosed
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

type Client struct {
	client http.Client
	url    string

	user string
	pass string

	info flashserver.Info
}

type Option func(*Client)

// WithAuth sets the basic auth credentials, see flashserver.AuthCalculate.
func WithAuth(user, pass string) Option {
	return func(c *Client) {
		c.user = user
		c.pass = pass
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// New connects to the server at baseURL and fetches the chip description.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		client: http.Client{
			Timeout: 60 * time.Second,
		},

		url: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	infoRaw, _, err := c.doReq(http.MethodGet, "info", nil, nil)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(infoRaw, &c.info); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) doReq(method string, endpoint string, query url.Values, body []byte) ([]byte, http.Header, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	u := c.url + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, rdr)
	if err != nil {
		return nil, nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, flashserver.MaxTransfer+1))
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &RequestError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Msg:        string(bytes.TrimSpace(data)),
		}
	}

	return data, resp.Header, nil
}

func rangeQuery(addr uint32, length int) url.Values {
	q := url.Values{}
	q.Set("addr", "0x"+strconv.FormatUint(uint64(addr), 16))
	if length >= 0 {
		q.Set("len", strconv.Itoa(length))
	}
	return q
}

func (c *Client) Info() flashserver.Info {
	return c.info
}

// Read fills buf starting at addr. Large reads are split into several
// requests. A *ReadError means buf is filled but parts could not be read.
func (c *Client) Read(buf []byte, addr uint32) error {
	var partial error

	for pos := 0; pos < len(buf); {
		n := min(len(buf)-pos, flashserver.MaxTransfer)

		data, hdr, err := c.doReq(http.MethodGet, "read", rangeQuery(addr+uint32(pos), n), nil)
		if err != nil {
			return err
		}
		if len(data) != n {
			return fmt.Errorf("short read: got %d of %d bytes", len(data), n)
		}
		if msg := hdr.Get(flashserver.HeaderReadError); msg != "" {
			partial = &ReadError{Msg: msg}
		}

		copy(buf[pos:], data)
		pos += n
	}

	return partial
}

// ReadAt implements io.ReaderAt. A *ReadError is returned with the full
// count.
func (c *Client) ReadAt(p []byte, off int64) (int, error) {
	size := int64(c.info.TotalSize)
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	n := len(p)
	if rest := size - off; int64(n) > rest {
		n = int(rest)
	}
	if err := c.Read(p[:n], uint32(off)); err != nil {
		var partial *ReadError
		if errors.As(err, &partial) {
			return n, err
		}
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (c *Client) Write(data []byte, addr uint32) error {
	for pos := 0; pos < len(data); {
		n := min(len(data)-pos, flashserver.MaxTransfer)

		if _, _, err := c.doReq(http.MethodPost, "write", rangeQuery(addr+uint32(pos), -1), data[pos:pos+n]); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (c *Client) Erase(addr, length uint32) error {
	_, _, err := c.doReq(http.MethodPost, "erase", rangeQuery(addr, int(length)), nil)
	return err
}

func (c *Client) Status() (spinor.StatusRegister, error) {
	data, _, err := c.doReq(http.MethodGet, "status", nil, nil)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, errors.New("invalid status response")
	}
	return spinor.StatusRegister(data[0]), nil
}

func (c *Client) SetStatus(sr spinor.StatusRegister) error {
	_, _, err := c.doReq(http.MethodPost, "status", nil, []byte{byte(sr)})
	return err
}

func (c *Client) Unprotect() error {
	_, _, err := c.doReq(http.MethodPost, "unprotect", nil, []byte{})
	return err
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
