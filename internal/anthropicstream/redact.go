// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anthropicstream

import "regexp"

// redactionPattern pairs a compiled regex with a replacement label, so a
// logged request/response body never carries a raw secret.
type redactionPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionPatterns is ordered: more specific key formats must precede
// their looser supersets (the Anthropic key prefix before the bare
// OpenAI "sk-" prefix) or the specific pattern never gets a chance to
// match.
var redactionPatterns = []redactionPattern{
	{regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:gemini_key]"},
	{regexp.MustCompile(`Bearer [A-Za-z0-9._-]{20,}`), "Bearer [REDACTED:token]"},
}

// safeLogString redacts any recognizable API key or bearer token from s
// before it is logged at debug level.
func safeLogString(s string) string {
	for _, p := range redactionPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
