package ots

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// maxCalendarResponseSize caps both submit and fetch-upgrade response
// bodies at 10000 bytes, matching the calendar client design.
const maxCalendarResponseSize = 10_000

// calendarTimeout bounds every outbound calendar request to 30 seconds.
const calendarTimeout = 30 * time.Second

// CalendarClient talks to OpenTimestamps calendar servers: submitting a
// digest for timestamping and fetching an upgraded timestamp once one is
// ready.
type CalendarClient struct {
	HTTPClient *http.Client
}

// NewCalendarClient returns a client with the standard timeout applied.
func NewCalendarClient() *CalendarClient {
	return &CalendarClient{HTTPClient: &http.Client{Timeout: calendarTimeout}}
}

// Submit POSTs digest to <calendarURL>/digest and returns the raw response
// body, which the caller parses as a partial timestamp rooted at digest.
func (c *CalendarClient) Submit(calendarURL string, digest []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, calendarURL+"/digest", bytes.NewReader(digest))
	if err != nil {
		return nil, errs.Wrap(errs.IO, "build calendar submit request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/vnd.opentimestamps.v1")

	return c.doCapped(req)
}

// FetchUpgrade GETs <calendarURL>/timestamp/<hex(commitment)> and returns
// the raw response body, a partial timestamp rooted at commitment. A 404
// response is reported as ErrorKind NotYet.
func (c *CalendarClient) FetchUpgrade(calendarURL string, commitment []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/timestamp/%s", calendarURL, hex.EncodeToString(commitment))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "build calendar upgrade request", err)
	}
	req.Header.Set("Accept", "application/vnd.opentimestamps.v1")

	return c.doCapped(req)
}

func (c *CalendarClient) doCapped(req *http.Request) ([]byte, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: calendarTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, "calendar request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.NotYet, "calendar has no timestamp for this commitment yet")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.Upstream, fmt.Sprintf("calendar responded %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, maxCalendarResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "read calendar response", err)
	}
	if len(body) > maxCalendarResponseSize {
		return nil, errs.New(errs.Oversize, "calendar response exceeds size cap")
	}
	return body, nil
}
