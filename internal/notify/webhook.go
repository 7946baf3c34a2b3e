package notify

import "crypto/subtle"

// VerifyWebhookToken compares a caller-supplied bearer token against
// the current token in constant time, so a timing side-channel can't
// leak the correct token a byte at a time (spec §4.14 "Webhook
// authentication"). The HTTP handler that extracts the bearer token
// and looks up the current value in the SystemSetting table lives in
// internal/httpapi; token rotation is an admin operation performed
// there too.
func VerifyWebhookToken(provided, current string) bool {
	if provided == "" || current == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}
