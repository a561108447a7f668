package camera

import (
	"net"
	"net/url"
	"strings"
)

const redactedUserinfo = "***:***@"

// RTSPURL builds the camera URL for the given variant. Credentials are
// included only when both username and password are set.
func (s Settings) RTSPURL(v Variant) string {
	u := s.rtspURL(v)
	if s.Username != "" && s.Password != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	return u.String()
}

// RedactedRTSPURL is RTSPURL with the credentials masked, for logs.
func (s Settings) RedactedRTSPURL(v Variant) string {
	u := s.rtspURL(v)
	plain := u.String()
	if s.Username == "" || s.Password == "" {
		return plain
	}
	return strings.Replace(plain, "rtsp://", "rtsp://"+redactedUserinfo, 1)
}

func (s Settings) rtspURL(v Variant) *url.URL {
	port := s.Port
	if port == "" {
		port = DefaultPort
	}
	return &url.URL{
		Scheme: "rtsp",
		Host:   net.JoinHostPort(s.IP, port),
		Path:   "/" + strings.TrimPrefix(s.StreamPath(v), "/"),
	}
}
