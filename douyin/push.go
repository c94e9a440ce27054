package douyin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const pushEndpoint = "wss://webcast100-ws-web-lq.douyin.com/webcast/im/push/v2/"

// These mirror the fixed browser-session parameters the web client sends on
// its push connection. The platform validates the signature over a subset of
// them (see signedParamKeys), so values must stay internally consistent.
const pushQueryTemplate = "app_name=douyin_web" +
	"&version_code=180800&webcast_sdk_version=1.0.14-beta.0" +
	"&update_version_code=1.0.14-beta.0&compress=gzip&device_platform=web&cookie_enabled=true" +
	"&screen_width=1536&screen_height=864&browser_language=zh-CN&browser_platform=Win32" +
	"&browser_name=Mozilla" +
	"&browser_version=5.0%20(Windows%20NT%2010.0;%20Win64;%20x64)%20AppleWebKit/537.36%20(KHTML," +
	"%20like%20Gecko)%20Chrome/126.0.0.0%20Safari/537.36" +
	"&browser_online=true&tz_name=Asia/Shanghai" +
	"&cursor=d-1_u-1_fh-7392091211001140287_t-1721106114633_r-1" +
	"&internal_ext=internal_src:dim|wss_push_room_id:{room_id}|wss_push_did:7319483754668557238" +
	"|first_req_ms:1721106114541|fetch_time:1721106114633|seq:1|wss_info:0-1721106114633-0-0|wrds_v:7392094459690748497" +
	"&host=https://live.douyin.com&aid=6383&live_id=1&did_rule=3&endpoint=live_pc&support_wrds=1" +
	"&user_unique_id=7319483754668557238&im_path=/webcast/im/fetch/&identity=audience" +
	"&need_persist_msg_count=15&insert_task_id=&live_reason=&room_id={room_id}&heartbeatDuration=0"

// BuildPushURL assembles the unsigned push URL for an internal room id.
func BuildPushURL(roomID string) string {
	return pushEndpoint + "?" + strings.ReplaceAll(pushQueryTemplate, "{room_id}", roomID)
}

// PushConnect returns the fully signed push URL and the request headers the
// endpoint expects. Any signing or cookie failure here means the capture
// session cannot start.
func (c *Client) PushConnect(ctx context.Context, roomID string) (string, http.Header, error) {
	ttwid, err := c.TTWID(ctx)
	if err != nil {
		return "", nil, err
	}
	wss := BuildPushURL(roomID)
	canonical, err := CanonicalSignParams(wss)
	if err != nil {
		return "", nil, err
	}
	signature, err := c.Signer.Sign(canonical)
	if err != nil {
		return "", nil, fmt.Errorf("sign push url: %w", err)
	}
	wss += "&signature=" + url.QueryEscape(signature)

	header := http.Header{}
	header.Set("Cookie", "ttwid="+ttwid)
	header.Set("User-Agent", c.userAgent())
	return wss, header, nil
}
