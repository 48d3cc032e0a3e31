package service

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// A cursor names a session and the sequence number the caller last saw.
// Presenting an older sequence means the caller is replaying a page.

func encodeCursor(sessionID string, seq int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID + "." + strconv.Itoa(seq)))
}

func decodeCursor(cursor string) (string, int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(cursor))
	if err != nil {
		return "", 0, protocolErrorf(ProtocolBadCursor, "malformed cursor")
	}
	id, seqText, ok := strings.Cut(string(raw), ".")
	if !ok {
		return "", 0, protocolErrorf(ProtocolBadCursor, "malformed cursor")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", 0, protocolErrorf(ProtocolBadCursor, "malformed cursor")
	}
	seq, err := strconv.Atoi(seqText)
	if err != nil || seq < 0 {
		return "", 0, protocolErrorf(ProtocolBadCursor, "malformed cursor")
	}
	return id, seq, nil
}
