package gateway

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// --- flexible scalars ---

// FlexID accepts "abc", 123 or {"_serialized": "abc"} style identifiers.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
	case '{':
		var obj struct {
			Serialized string `json:"_serialized"`
			ID         string `json:"id"`
			User       string `json:"user"`
			Server     string `json:"server"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.Serialized != "":
			*f = FlexID(obj.Serialized)
		case obj.User != "" && obj.Server != "":
			*f = FlexID(obj.User + "@" + obj.Server)
		default:
			*f = FlexID(obj.ID)
		}
	default:
		*f = FlexID(string(b))
	}
	return nil
}

// FlexInt accepts numbers, numeric strings and protobuf Long objects ({"low":..,"high":..}).
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		*f = FlexInt(math.Round(n))
	case '{':
		var long struct {
			Low  int64 `json:"low"`
			High int64 `json:"high"`
		}
		if err := json.Unmarshal(b, &long); err != nil {
			return err
		}
		*f = FlexInt(long.High<<32 | (long.Low & 0xffffffff))
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return nil
		}
		*f = FlexInt(math.Round(n))
	}
	return nil
}

// FlexString accepts strings or numbers (ack codes).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

// --- chats ---

// Chat is one entry of the recent chat list.
type Chat struct {
	ID          string
	Name        string
	Timestamp   int64
	UnreadCount int
	// Malformed marks an entry the client could not decode.
	Malformed bool
}

func (c *Chat) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID                    FlexID  `json:"id"`
		JID                   FlexID  `json:"jid"`
		RemoteJID             FlexID  `json:"remoteJid"`
		ChatID                FlexID  `json:"chatId"`
		Name                  string  `json:"name"`
		PushName              string  `json:"pushName"`
		Subject               string  `json:"subject"`
		FormattedTitle        string  `json:"formattedTitle"`
		ConversationTimestamp FlexInt `json:"conversationTimestamp"`
		LastMessageTimestamp  FlexInt `json:"lastMessageTimestamp"`
		Timestamp             FlexInt `json:"timestamp"`
		T                     FlexInt `json:"t"`
		UnreadCount           FlexInt `json:"unreadCount"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.ID = firstNonEmpty(string(raw.RemoteJID), string(raw.JID), string(raw.ChatID), string(raw.ID))
	c.Name = firstNonEmpty(raw.Name, raw.PushName, raw.Subject, raw.FormattedTitle)
	c.Timestamp = firstNonZero(raw.ConversationTimestamp, raw.LastMessageTimestamp, raw.Timestamp, raw.T)
	c.UnreadCount = int(raw.UnreadCount)
	return nil
}

// --- contacts / profiles ---

// Contact is one entry of the gateway address book.
type Contact struct {
	ID         string
	Name       string
	PushName   string
	IsBusiness *bool
	PictureURL string
	Malformed  bool
}

func (c *Contact) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID                FlexID `json:"id"`
		JID               FlexID `json:"jid"`
		RemoteJID         FlexID `json:"remoteJid"`
		Name              string `json:"name"`
		VerifiedName      string `json:"verifiedName"`
		Notify            string `json:"notify"`
		PushName          string `json:"pushName"`
		Pushname          string `json:"pushname"`
		IsBusiness        *bool  `json:"isBusiness"`
		ProfilePictureURL string `json:"profilePictureUrl"`
		ImgURL            string `json:"imgUrl"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.ID = firstNonEmpty(string(raw.RemoteJID), string(raw.JID), string(raw.ID))
	c.Name = firstNonEmpty(raw.Name, raw.VerifiedName)
	c.PushName = firstNonEmpty(raw.PushName, raw.Pushname, raw.Notify)
	c.IsBusiness = raw.IsBusiness
	c.PictureURL = firstNonEmpty(raw.ProfilePictureURL, raw.ImgURL)
	return nil
}

// Profile is the public profile of one address.
type Profile struct {
	Name       string
	PushName   string
	IsBusiness *bool
	PictureURL string
	Malformed  bool
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name              string `json:"name"`
		VerifiedName      string `json:"verifiedName"`
		PushName          string `json:"pushName"`
		Pushname          string `json:"pushname"`
		Notify            string `json:"notify"`
		IsBusiness        *bool  `json:"isBusiness"`
		BusinessProfile   *struct{ Description string } `json:"businessProfile"`
		ProfilePictureURL string `json:"profilePictureUrl"`
		Picture           string `json:"picture"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Name = firstNonEmpty(raw.Name, raw.VerifiedName)
	p.PushName = firstNonEmpty(raw.PushName, raw.Pushname, raw.Notify)
	p.IsBusiness = raw.IsBusiness
	if p.IsBusiness == nil && raw.BusinessProfile != nil {
		yes := true
		p.IsBusiness = &yes
	}
	p.PictureURL = firstNonEmpty(raw.ProfilePictureURL, raw.Picture)
	return nil
}

// --- messages ---

// Media describes an attachment of a message.
type Media struct {
	Caption  string
	FileName string
	MimeType string
}

// Location is a shared location.
type Location struct {
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
}

// Content holds every content kind a message may carry. Normally one is set.
type Content struct {
	Conversation string
	ExtendedText string
	Image        *Media
	Audio        *Media
	Video        *Media
	Document     *Media
	Sticker      *Media
	ContactName  *string
	Location     *Location
}

// Message is a gateway message normalized from either the WhatsApp Web
// protocol shape ({key, message, messageTimestamp}) or the flat shape
// ({id, chatId, body, type, timestamp}).
type Message struct {
	ID        string
	RemoteJID string
	FromMe    bool
	PushName  string
	Timestamp int64
	Status    string
	Content   Content
	Malformed bool
}

type waKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

type waMedia struct {
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
	Title    string `json:"title"`
	Mimetype string `json:"mimetype"`
}

type waLocation struct {
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
}

type waWrapper struct {
	Message *waContent `json:"message"`
}

type waContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *waMedia `json:"imageMessage"`
	AudioMessage    *waMedia `json:"audioMessage"`
	VideoMessage    *waMedia `json:"videoMessage"`
	DocumentMessage *waMedia `json:"documentMessage"`
	StickerMessage  *waMedia `json:"stickerMessage"`
	ContactMessage  *struct {
		DisplayName string `json:"displayName"`
	} `json:"contactMessage"`
	ContactsArrayMessage *struct {
		DisplayName string `json:"displayName"`
	} `json:"contactsArrayMessage"`
	LocationMessage            *waLocation `json:"locationMessage"`
	LiveLocationMessage        *waLocation `json:"liveLocationMessage"`
	EphemeralMessage           *waWrapper  `json:"ephemeralMessage"`
	ViewOnceMessage            *waWrapper  `json:"viewOnceMessage"`
	ViewOnceMessageV2          *waWrapper  `json:"viewOnceMessageV2"`
	DocumentWithCaptionMessage *waWrapper  `json:"documentWithCaptionMessage"`
}

// unwrap follows ephemeral / view-once / captioned-document wrappers.
func (w *waContent) unwrap() *waContent {
	for i := 0; w != nil && i < 4; i++ {
		var inner *waWrapper
		switch {
		case w.EphemeralMessage != nil:
			inner = w.EphemeralMessage
		case w.ViewOnceMessage != nil:
			inner = w.ViewOnceMessage
		case w.ViewOnceMessageV2 != nil:
			inner = w.ViewOnceMessageV2
		case w.DocumentWithCaptionMessage != nil:
			inner = w.DocumentWithCaptionMessage
		default:
			return w
		}
		if inner.Message == nil {
			return w
		}
		w = inner.Message
	}
	return w
}

func (w *waContent) toContent() Content {
	var c Content
	w = w.unwrap()
	if w == nil {
		return c
	}
	c.Conversation = w.Conversation
	if w.ExtendedTextMessage != nil {
		c.ExtendedText = w.ExtendedTextMessage.Text
	}
	c.Image = w.ImageMessage.toMedia()
	c.Audio = w.AudioMessage.toMedia()
	c.Video = w.VideoMessage.toMedia()
	c.Document = w.DocumentMessage.toMedia()
	c.Sticker = w.StickerMessage.toMedia()
	switch {
	case w.ContactMessage != nil:
		c.ContactName = &w.ContactMessage.DisplayName
	case w.ContactsArrayMessage != nil:
		c.ContactName = &w.ContactsArrayMessage.DisplayName
	}
	loc := w.LocationMessage
	if loc == nil {
		loc = w.LiveLocationMessage
	}
	if loc != nil {
		c.Location = &Location{Name: loc.Name, Address: loc.Address, Latitude: loc.DegreesLatitude, Longitude: loc.DegreesLongitude}
	}
	return c
}

func (m *waMedia) toMedia() *Media {
	if m == nil {
		return nil
	}
	return &Media{Caption: m.Caption, FileName: firstNonEmpty(m.FileName, m.Title), MimeType: m.Mimetype}
}

type flatID struct {
	ID         string
	FromMe     *bool
	Remote     string
	Serialized string
}

func (f *flatID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '{' {
		var id FlexID
		if err := id.UnmarshalJSON(b); err != nil {
			return err
		}
		f.ID = string(id)
		return nil
	}
	var obj struct {
		ID         string `json:"id"`
		FromMe     *bool  `json:"fromMe"`
		Remote     FlexID `json:"remote"`
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	f.ID, f.FromMe, f.Remote, f.Serialized = obj.ID, obj.FromMe, string(obj.Remote), obj.Serialized
	return nil
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Key              *waKey     `json:"key"`
		Message          *waContent `json:"message"`
		MessageTimestamp FlexInt    `json:"messageTimestamp"`

		ID        flatID     `json:"id"`
		ChatID    FlexID     `json:"chatId"`
		RemoteJID FlexID     `json:"remoteJid"`
		From      FlexID     `json:"from"`
		To        FlexID     `json:"to"`
		FromMe    *bool      `json:"fromMe"`
		Body      string     `json:"body"`
		Text      string     `json:"text"`
		Caption   string     `json:"caption"`
		Type      string     `json:"type"`
		FileName  string     `json:"filename"`
		MimeType  string     `json:"mimetype"`
		Timestamp FlexInt    `json:"timestamp"`
		T         FlexInt    `json:"t"`
		Ack       FlexString `json:"ack"`
		Status    FlexString `json:"status"`

		PushName   string `json:"pushName"`
		NotifyName string `json:"notifyName"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	m.PushName = firstNonEmpty(raw.PushName, raw.NotifyName)
	m.Status = firstNonEmpty(string(raw.Status), string(raw.Ack))

	if raw.Key != nil {
		m.ID = raw.Key.ID
		m.RemoteJID = raw.Key.RemoteJID
		m.FromMe = raw.Key.FromMe
		m.Timestamp = firstNonZero(raw.MessageTimestamp, raw.Timestamp)
		if raw.Message != nil {
			m.Content = raw.Message.toContent()
		}
		return nil
	}

	m.ID = firstNonEmpty(raw.ID.ID, raw.ID.Serialized)
	if raw.FromMe != nil {
		m.FromMe = *raw.FromMe
	} else if raw.ID.FromMe != nil {
		m.FromMe = *raw.ID.FromMe
	}
	m.RemoteJID = firstNonEmpty(string(raw.ChatID), string(raw.RemoteJID), raw.ID.Remote)
	if m.RemoteJID == "" {
		if m.FromMe {
			m.RemoteJID = string(raw.To)
		} else {
			m.RemoteJID = string(raw.From)
		}
	}
	m.Timestamp = firstNonZero(raw.MessageTimestamp, raw.Timestamp, raw.T)
	if raw.Message != nil {
		m.Content = raw.Message.toContent()
		return nil
	}
	m.Content = flatContent(raw.Type, firstNonEmpty(raw.Body, raw.Text), raw.Caption, raw.FileName, raw.MimeType)
	return nil
}

// flatContent maps the flat "type" vocabulary. For media types body is the caption.
func flatContent(kind, body, caption, fileName, mimeType string) Content {
	var c Content
	media := &Media{Caption: firstNonEmpty(caption, body), FileName: fileName, MimeType: mimeType}
	switch strings.ToLower(kind) {
	case "", "chat", "text", "conversation":
		c.Conversation = body
	case "extendedtext", "extended_text":
		c.ExtendedText = body
	case "image":
		c.Image = media
	case "audio", "ptt", "voice":
		c.Audio = media
	case "video", "gif":
		c.Video = media
	case "document", "file":
		c.Document = media
	case "sticker":
		c.Sticker = media
	case "vcard", "multi_vcard", "contact":
		name := body
		c.ContactName = &name
	case "location", "live_location":
		c.Location = &Location{Name: body}
	}
	return c
}

func firstNonZero(values ...FlexInt) int64 {
	for _, v := range values {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}
