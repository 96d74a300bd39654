// Package mapper converts normalized gateway messages into stored messages.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/identity"
)

// Skip reasons
const (
	SkipNoID           = "missing message id"
	SkipInvalidAddress = "invalid address"
	SkipNoTimestamp    = "missing timestamp"
	SkipUnsupported    = "unsupported message type"
	SkipMalformed      = "malformed payload"
)

// Result is either a mapped Message or a Skip reason.
type Result struct {
	Message *domain.Message
	Skip    string
}

// Skipped reports whether the payload produced no message.
func (r Result) Skipped() bool {
	return r.Message == nil
}

func skip(reason string) Result {
	return Result{Skip: reason}
}

// MapMessage converts one gateway message. Content resolution order: plain
// text, extended text, image, audio, video, document, sticker, contact card,
// location. The timestamp always comes from the gateway.
func MapMessage(raw gateway.Message) Result {
	if raw.Malformed {
		return skip(SkipMalformed)
	}
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return skip(SkipNoID)
	}
	addr, ok := identity.NormalizeAddress(raw.RemoteJID)
	if !ok {
		return skip(SkipInvalidAddress)
	}
	ts, ok := ParseTimestamp(raw.Timestamp)
	if !ok {
		return skip(SkipNoTimestamp)
	}
	body, kind, ok := resolveContent(raw.Content)
	if !ok {
		return skip(SkipUnsupported)
	}

	msg := &domain.Message{
		MessageID: id,
		Phone:     addr.Phone,
		JID:       addr.JID,
		FromMe:    raw.FromMe,
		Body:      body,
		MediaType: kind,
		Timestamp: ts,
		PushName:  strings.TrimSpace(raw.PushName),
	}
	if status := domain.NormalizeDeliveryStatus(raw.Status); status != "" {
		msg.Status = &status
	}
	return Result{Message: msg}
}

func resolveContent(c gateway.Content) (string, string, bool) {
	if text := strings.TrimSpace(c.Conversation); text != "" {
		return text, domain.MediaText, true
	}
	if text := strings.TrimSpace(c.ExtendedText); text != "" {
		return text, domain.MediaText, true
	}
	if c.Image != nil {
		return captionOr(c.Image, "[Imagem]"), domain.MediaImage, true
	}
	if c.Audio != nil {
		return "[Áudio]", domain.MediaAudio, true
	}
	if c.Video != nil {
		return captionOr(c.Video, "[Vídeo]"), domain.MediaVideo, true
	}
	if c.Document != nil {
		label := "[Documento]"
		if c.Document.FileName != "" {
			label = fmt.Sprintf("[Documento: %s]", c.Document.FileName)
		}
		return captionOr(c.Document, label), domain.MediaDocument, true
	}
	if c.Sticker != nil {
		return "[Sticker]", domain.MediaSticker, true
	}
	if c.ContactName != nil {
		if name := strings.TrimSpace(*c.ContactName); name != "" {
			return fmt.Sprintf("[Contato: %s]", name), domain.MediaContact, true
		}
		return "[Contato]", domain.MediaContact, true
	}
	if c.Location != nil {
		if c.Location.Name != "" {
			return fmt.Sprintf("[Localização: %s]", c.Location.Name), domain.MediaLocation, true
		}
		return "[Localização]", domain.MediaLocation, true
	}
	return "", "", false
}

func captionOr(m *gateway.Media, placeholder string) string {
	if caption := strings.TrimSpace(m.Caption); caption != "" {
		return caption
	}
	return placeholder
}

// Timestamp magnitude boundaries: values at or above these are milli/microseconds.
const (
	millisThreshold = 1_000_000_000_000
	microsThreshold = 1_000_000_000_000_000
)

// ParseTimestamp accepts unix seconds, milliseconds or microseconds.
func ParseTimestamp(v int64) (time.Time, bool) {
	switch {
	case v <= 0:
		return time.Time{}, false
	case v >= microsThreshold:
		return time.UnixMicro(v).UTC(), true
	case v >= millisThreshold:
		return time.UnixMilli(v).UTC(), true
	default:
		return time.Unix(v, 0).UTC(), true
	}
}
