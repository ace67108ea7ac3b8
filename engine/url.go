package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// buildConnectURL constructs the WebSocket URL the transport dials, per
// §4.C.1: scheme http(s)->ws(s), path resource||"/socket.io/", query
// EIO=4&transport=websocket[&sid=<sid>]&t=<unix_seconds>&<user-query>.
func buildConnectURL(rawURI, path, sid string, userQuery url.Values, now func() time.Time) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("engine: parsing uri %q: %w", rawURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme
	default:
		return "", fmt.Errorf("engine: unsupported scheme %q", u.Scheme)
	}

	if path == "" {
		path = "/socket.io/"
	}
	u.Path = path

	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	if sid != "" {
		q.Set("sid", sid)
	}
	q.Set("t", strconv.FormatInt(now().Unix(), 10))
	for k, vs := range userQuery {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
