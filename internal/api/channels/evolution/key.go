package evolution

import (
	"strings"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

const DefaultKeySuffix = "aleen"

// UserNumber is the digits of the JID before '@'.
func UserNumber(remoteJid string) string {
	return utils.CleanPhone(remoteJid)
}

// BufferKey derives the aggregation key for a sender: number, first name,
// last name (only for multi-part names) and suffix. Name parts keep only
// letters and digits, so emoji or punctuation in a push name never change
// the key's shape.
func BufferKey(remoteJid, pushName, suffix string) string {
	if suffix == "" {
		suffix = DefaultKeySuffix
	}

	var parts []string
	for _, p := range strings.Fields(pushName) {
		if p = utils.AlphaNumeric(p); p != "" {
			parts = append(parts, p)
		}
	}

	var b strings.Builder
	b.WriteString(UserNumber(remoteJid))
	if len(parts) > 0 {
		b.WriteString(parts[0])
	}
	if len(parts) > 1 {
		b.WriteString(parts[len(parts)-1])
	}
	b.WriteString(suffix)
	return b.String()
}
