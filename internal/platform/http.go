package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// statusResumeIncomplete is the non-standard status resumable upload
// endpoints answer while a session is still missing bytes.
const statusResumeIncomplete = 308

// HTTPClient implements Client against an HTTP resumable-upload API.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the given API base URL.
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *HTTPClient) CreateResumableUpload(ctx context.Context, accessToken string, meta Metadata) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", &Error{Sentinel: ErrBadResponse, Operation: "create upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload/videos?uploadType=resumable", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Sentinel: ErrUnavailable, Operation: "create upload", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(meta.FileSize, 10))
	if meta.MimeType != "" {
		req.Header.Set("X-Upload-Content-Type", meta.MimeType)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Sentinel: ErrUnavailable, Operation: "create upload", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if err := c.checkStatus("create upload", res); err != nil {
		return "", err
	}

	uploadURL := res.Header.Get("Location")
	if uploadURL == "" {
		return "", &Error{Sentinel: ErrBadResponse, Operation: "create upload", Status: res.StatusCode, Body: "missing Location header"}
	}
	return uploadURL, nil
}

func (c *HTTPClient) QueryOffset(ctx context.Context, accessToken, uploadURL string, fileSize int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, nil)
	if err != nil {
		return 0, &Error{Sentinel: ErrUnavailable, Operation: "query offset", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))

	res, err := c.http.Do(req)
	if err != nil {
		return 0, &Error{Sentinel: ErrUnavailable, Operation: "query offset", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case statusResumeIncomplete:
		return parseRangeOffset(res.Header.Get("Range")), nil
	case http.StatusOK, http.StatusCreated:
		// The platform already has everything.
		return fileSize, nil
	}
	return 0, c.checkStatus("query offset", res)
}

func (c *HTTPClient) UploadChunk(ctx context.Context, accessToken, uploadURL string, offset int64, chunk []byte, fileSize int64) (ChunkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return ChunkResult{}, &Error{Sentinel: ErrUnavailable, Operation: "upload chunk", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, fileSize))

	res, err := c.http.Do(req)
	if err != nil {
		return ChunkResult{}, &Error{Sentinel: ErrUnavailable, Operation: "upload chunk", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case statusResumeIncomplete:
		return ChunkResult{AcceptedOffset: parseRangeOffset(res.Header.Get("Range"))}, nil
	case http.StatusOK, http.StatusCreated:
		var p struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
			return ChunkResult{}, &Error{Sentinel: ErrBadResponse, Operation: "upload chunk", Status: res.StatusCode, Err: err}
		}
		return ChunkResult{AcceptedOffset: fileSize, Complete: true, RemoteID: p.ID, VideoURL: p.URL}, nil
	}
	return ChunkResult{}, c.checkStatus("upload chunk", res)
}

func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &Error{Sentinel: ErrUnavailable, Operation: "refresh token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return Token{}, &Error{Sentinel: ErrUnavailable, Operation: "refresh token", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnauthorized {
		// invalid_grant and friends: the refresh token itself is dead.
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return Token{}, &Error{Sentinel: ErrUnauthenticated, Operation: "refresh token", Status: res.StatusCode, Body: string(body)}
	}
	if err := c.checkStatus("refresh token", res); err != nil {
		return Token{}, err
	}

	var p struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return Token{}, &Error{Sentinel: ErrBadResponse, Operation: "refresh token", Err: err}
	}
	if p.AccessToken == "" {
		return Token{}, &Error{Sentinel: ErrBadResponse, Operation: "refresh token", Body: "empty access_token"}
	}
	return Token{AccessToken: p.AccessToken, ExpiresIn: p.ExpiresIn}, nil
}

func (c *HTTPClient) EndLiveBroadcast(ctx context.Context, accessToken, broadcastID string) error {
	u := c.base + "/live/broadcasts/" + url.PathEscape(broadcastID) + "/complete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return &Error{Sentinel: ErrUnavailable, Operation: "end broadcast", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := c.http.Do(req)
	if err != nil {
		return &Error{Sentinel: ErrUnavailable, Operation: "end broadcast", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	return c.checkStatus("end broadcast", res)
}

// checkStatus maps non-2xx answers onto the sentinel taxonomy.
func (c *HTTPClient) checkStatus(op string, res *http.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return &Error{Sentinel: ErrUnauthenticated, Operation: op, Status: res.StatusCode}
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return &Error{Sentinel: ErrSessionRejected, Operation: op, Status: res.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &Error{Sentinel: ErrUnavailable, Operation: op, Status: res.StatusCode, Body: string(body)}
	}
}

// parseRangeOffset extracts the next expected byte from a Range header of
// the form "bytes=0-12345". A missing or malformed header means no bytes
// have been stored yet.
func parseRangeOffset(h string) int64 {
	if h == "" {
		return 0
	}
	idx := strings.LastIndex(h, "-")
	if idx < 0 {
		return 0
	}
	end, err := strconv.ParseInt(h[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return end + 1
}
