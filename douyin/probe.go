package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// RoomStatus is the outcome of one live-status probe.
type RoomStatus struct {
	IsLive bool
	// Status is the raw platform status code (2 means broadcasting);
	// 0 when the response carried none.
	Status int
	Anchor string
	Title  string
}

// ProbeError wraps any network or parse failure of the status probe.
// Recoverable: the monitor treats the cycle as "status unknown" and polls
// again on schedule.
type ProbeError struct {
	Room string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("douyin: probe room %s: %v", e.Room, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

const liveStatusValue = 2

// LiveStatus polls the webcast room-enter API to determine whether the room
// identified by its public web id is currently broadcasting.
func (c *Client) LiveStatus(ctx context.Context, webRID string) (RoomStatus, error) {
	st, err := c.liveStatus(ctx, webRID)
	if err != nil {
		return RoomStatus{}, &ProbeError{Room: webRID, Err: err}
	}
	return st, nil
}

func (c *Client) liveStatus(ctx context.Context, webRID string) (RoomStatus, error) {
	ttwid, err := c.TTWID(ctx)
	if err != nil {
		return RoomStatus{}, err
	}
	msToken := MSToken()
	params := url.Values{}
	params.Set("aid", "6383")
	params.Set("app_name", "douyin_web")
	params.Set("live_id", "1")
	params.Set("device_platform", "web")
	params.Set("language", "zh-CN")
	params.Set("browser_language", "zh-CN")
	params.Set("browser_platform", "Win32")
	params.Set("browser_name", "Chrome")
	params.Set("browser_version", "116.0.0.0")
	params.Set("web_rid", webRID)
	params.Set("msToken", msToken)

	token, err := c.Signer.RequestToken(params, c.userAgent())
	if err != nil {
		return RoomStatus{}, fmt.Errorf("request token: %w", err)
	}

	api := liveURL + "webcast/room/web/enter/?" + params.Encode() + "&a_bogus=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api, nil)
	if err != nil {
		return RoomStatus{}, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Cookie", fmt.Sprintf("ttwid=%s; msToken=%s", ttwid, msToken))
	req.Header.Set("Referer", liveURL+webRID)

	resp, err := c.http().Do(req)
	if err != nil {
		return RoomStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return RoomStatus{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Data []struct {
				Status     int    `json:"status"`
				Title      string `json:"title"`
				AnchorName string `json:"anchor_name"`
			} `json:"data"`
			User struct {
				Nickname string `json:"nickname"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RoomStatus{}, fmt.Errorf("decode response: %w", err)
	}

	st := RoomStatus{}
	if len(body.Data.Data) > 0 {
		room := body.Data.Data[0]
		st.Status = room.Status
		st.IsLive = room.Status == liveStatusValue
		st.Title = room.Title
		st.Anchor = room.AnchorName
	}
	if st.Anchor == "" {
		st.Anchor = body.Data.User.Nickname
	}
	return st, nil
}
