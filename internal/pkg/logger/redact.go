package logger

import "strings"

// RedactMail masks a mail address for safe logging.
// "admin@instance.example" → "ad***@instance.example"
// Short local parts (≤2 chars) are fully masked.
func RedactMail(mail string) string {
	parts := strings.Split(mail, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
