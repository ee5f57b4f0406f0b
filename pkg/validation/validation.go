package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// VideoIDRegex validates catalog id format
	VideoIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// MediaExtensionRegex validates a media file extension such as ".mp4"
	MediaExtensionRegex = regexp.MustCompile(`^\.?[a-zA-Z0-9]{1,16}$`)
)

// ValidateVideoID validates video ID
func ValidateVideoID(videoID string) error {
	if videoID == "" {
		return fmt.Errorf("video ID is required")
	}
	if len(videoID) > 128 {
		return fmt.Errorf("video ID is too long (max 128 characters)")
	}
	if !VideoIDRegex.MatchString(videoID) {
		return fmt.Errorf("invalid video ID format")
	}
	return nil
}

// ValidateMediaExtension validates the catalog media extension
func ValidateMediaExtension(ext string) error {
	if ext == "" {
		return fmt.Errorf("media extension is required")
	}
	if !MediaExtensionRegex.MatchString(ext) {
		return fmt.Errorf("invalid media extension %q", ext)
	}
	return nil
}

// ValidateAddress validates a host:port listen or dial address. The host may
// be empty for listen addresses.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port in address %q", addr)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateTitle validates a video title as it travels in the catalog
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("title contains invalid characters")
	}
	return ValidateStringLength(title, 1, 1024, "title")
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
