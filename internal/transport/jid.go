// ABOUTME: Helpers for WhatsApp address formatting
// ABOUTME: Converts bare phone numbers to full network addresses

package transport

import "strings"

// DefaultServer is the WhatsApp user server suffix.
const DefaultServer = "s.whatsapp.net"

// FormatRecipient turns a bare phone number into a full network address.
// Addresses that already carry a server part are returned unchanged, so
// callers may pass either "5551234" or "5551234@s.whatsapp.net".
func FormatRecipient(number string) string {
	if strings.Contains(number, "@") {
		return number
	}
	return number + "@" + DefaultServer
}
