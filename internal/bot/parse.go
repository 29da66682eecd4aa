package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TrackArgs holds the parsed arguments of a /track command.
type TrackArgs struct {
	URL             string
	IntervalMinutes int
	QuietHours      bool
}

// ParseTrackArgs parses arguments for /track.
// Format: <url> <intervalMinutes> [quiet]
func ParseTrackArgs(args string) (TrackArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return TrackArgs{}, fmt.Errorf("usage: /track <url> <minutes> [quiet]")
	}

	rawURL := parts[0]
	if err := validateURL(rawURL); err != nil {
		return TrackArgs{}, err
	}

	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 || mins > 1440 {
		return TrackArgs{}, fmt.Errorf("interval must be between 1 and 1440 minutes")
	}

	quiet := false
	for _, p := range parts[2:] {
		if p == "quiet" {
			quiet = true
		}
	}

	return TrackArgs{
		URL:             rawURL,
		IntervalMinutes: mins,
		QuietHours:      quiet,
	}, nil
}

// ParseURLArg extracts a URL from a command argument string.
func ParseURLArg(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("URL is required")
	}
	rawURL := strings.Fields(s)[0]
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	return rawURL, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q, expected http(s)://...", rawURL)
	}
	return nil
}
