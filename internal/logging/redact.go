// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package logging

import "strings"

// Redacted is the placeholder written wherever a secret would otherwise
// appear in logs, errors, or serialized output.
const Redacted = "***"

// SanitizeSecret masks an API secret, showing only first and last 4
// characters of long values.
// Example: "a1b2c3d4e5f6g7h8" -> "a1b2...g7h8"
func SanitizeSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 12 {
		return Redacted
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// SanitizeUsername masks a service account username, keeping first 2
// characters.
// Example: "fetcher.abc123.mp-service-account" -> "fe***"
func SanitizeUsername(username string) string {
	if username == "" {
		return ""
	}
	if len(username) <= 2 {
		return Redacted
	}
	return username[:2] + Redacted
}

// SanitizeError removes potentially sensitive information from error
// messages destined for logs. Messages mentioning credential material are
// replaced wholesale rather than scrubbed piecemeal.
func SanitizeError(err string) string {
	sensitivePatterns := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"basic ",
	}

	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerErr, pattern) {
			return "authentication error"
		}
	}

	return truncateString(err, 200)
}

// SanitizeValue sanitizes a value based on its key name. Values under
// credential-ish keys are masked; everything else passes through.
func SanitizeValue(key, value string) string {
	sensitiveKeys := map[string]bool{
		"secret":        true,
		"mp_secret":     true,
		"password":      true,
		"token":         true,
		"api_key":       true,
		"apikey":        true,
		"authorization": true,
	}

	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeSecret(value)
	}

	return value
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
