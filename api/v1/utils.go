package v1

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP derives the effective client address: the first entry of a
// forwarded-for header when present, else the direct connection address.
func getClientIP(c *fiber.Ctx) string {
	if forwardedFor := c.Get("X-Forwarded-For"); forwardedFor != "" {
		// May hold multiple IPs: "client IP, proxy1 IP, proxy2 IP"
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}

	remoteAddr := c.Context().RemoteAddr().String()
	if remoteAddr != "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
			return host
		}
	}

	if ip := c.IP(); ip != "" {
		return ip
	}

	return "127.0.0.1"
}
