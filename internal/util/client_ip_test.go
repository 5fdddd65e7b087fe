package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xff            string
		xrip           string
		trustForwarded bool
		want           string
	}{
		{
			name:       "forwarded headers ignored by default",
			remoteAddr: "198.51.100.10:1234",
			xff:        "203.0.113.5",
			xrip:       "203.0.113.6",
			want:       "198.51.100.10",
		},
		{
			name:           "trusted proxy accepts x-forwarded-for",
			remoteAddr:     "10.0.0.20:1234",
			xff:            "203.0.113.5, 10.0.0.10",
			trustForwarded: true,
			want:           "203.0.113.5",
		},
		{
			name:           "falls back to x-real-ip when xff unusable",
			remoteAddr:     "10.0.0.20:1234",
			xff:            "invalid",
			xrip:           "203.0.113.7",
			trustForwarded: true,
			want:           "203.0.113.7",
		},
		{
			name:           "falls back to remote addr",
			remoteAddr:     "10.0.0.20:1234",
			trustForwarded: true,
			want:           "10.0.0.20",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trustForwarded); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}
