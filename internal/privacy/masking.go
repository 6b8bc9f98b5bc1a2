package privacy

import (
	"strings"

	"wareply/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits.
// Example: "+391234567890" -> "+********7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	keep := constants.DefaultPhoneMaskLength
	if strings.HasPrefix(phone, "+") {
		if len(phone) <= keep+1 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-1-keep) + phone[len(phone)-keep:]
	}

	if len(phone) <= keep {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-keep) + phone[len(phone)-keep:]
}

// MaskContactID masks a contact identifier while keeping enough of the
// tail to correlate log lines.
func MaskContactID(contactID string) string {
	return MaskPhoneNumber(contactID)
}

// MaskMessageID masks an external message ID, showing the last 8
// characters for debugging.
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if len(messageID) <= 8 {
		return strings.Repeat("*", len(messageID))
	}
	return strings.Repeat("*", len(messageID)-8) + messageID[len(messageID)-8:]
}
