package authapi

import (
	"net"
	"net/http"
	"strings"

	"qck/cmd/internal/auth/session"
)

// requestContext is the client context recorded with audits and fingerprints.
type requestContext struct {
	ip             net.IP
	userAgent      string
	acceptLanguage string
	acceptEncoding string
}

func (h *Handler) requestContextOf(r *http.Request) requestContext {
	return requestContext{
		ip:             clientIP(r, h.cfg.TrustProxy),
		userAgent:      strings.TrimSpace(r.UserAgent()),
		acceptLanguage: strings.TrimSpace(r.Header.Get("Accept-Language")),
		acceptEncoding: strings.TrimSpace(r.Header.Get("Accept-Encoding")),
	}
}

func (rc requestContext) device(info *deviceInfo) session.DeviceContext {
	in := session.FingerprintInput{
		UserAgent:      rc.userAgent,
		AcceptLanguage: rc.acceptLanguage,
		AcceptEncoding: rc.acceptEncoding,
	}
	if rc.ip != nil {
		in.IP = rc.ip.String()
	}
	if info != nil {
		in.Timezone = strings.TrimSpace(info.Timezone)
		in.ScreenResolution = strings.TrimSpace(info.ScreenResolution)
		in.Language = strings.TrimSpace(info.Language)
	}
	return session.DeviceContext{
		Fingerprint: session.Fingerprint(in),
		IP:          rc.ip,
		UserAgent:   rc.userAgent,
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the left-most valid address of X-Forwarded-For.
func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
