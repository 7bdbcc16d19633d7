package inbound

import (
	"encoding/json"

	"whatsapp-inbox/internal/models"
	wa "whatsapp-inbox/pkg/models"
)

// Variant is the typed form of an inbound message. Classify returns exactly
// one of the concrete types below; UnknownVariant absorbs kinds this service
// does not model yet.
type Variant interface {
	variant()
}

type TextVariant struct {
	Body string
}

type MediaVariant struct {
	Type  models.MessageType
	Media wa.MediaMessage
}

type LocationVariant struct {
	Location wa.LocationMessage
}

type InteractiveVariant struct {
	Interactive wa.InteractiveMessage
}

type ContactsVariant struct {
	Contacts []wa.SharedContact
}

type UnknownVariant struct {
	Type string
	Raw  json.RawMessage
}

func (TextVariant) variant()        {}
func (MediaVariant) variant()       {}
func (LocationVariant) variant()    {}
func (InteractiveVariant) variant() {}
func (ContactsVariant) variant()    {}
func (UnknownVariant) variant()     {}

// Classify maps the provider's type tag to a Variant. A known tag whose
// payload is missing is treated as unknown.
func Classify(msg *wa.InboundMessage) Variant {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return TextVariant{Body: msg.Text.Body}
		}
	case "image":
		if msg.Image != nil {
			return MediaVariant{Type: models.MessageTypeImage, Media: *msg.Image}
		}
	case "video":
		if msg.Video != nil {
			return MediaVariant{Type: models.MessageTypeVideo, Media: *msg.Video}
		}
	case "audio":
		if msg.Audio != nil {
			return MediaVariant{Type: models.MessageTypeAudio, Media: *msg.Audio}
		}
	case "document":
		if msg.Document != nil {
			return MediaVariant{Type: models.MessageTypeDocument, Media: *msg.Document}
		}
	case "location":
		if msg.Location != nil {
			return LocationVariant{Location: *msg.Location}
		}
	case "interactive":
		if msg.Interactive != nil {
			return InteractiveVariant{Interactive: *msg.Interactive}
		}
	case "contacts":
		if len(msg.Contacts) > 0 {
			return ContactsVariant{Contacts: msg.Contacts}
		}
	}
	return UnknownVariant{Type: msg.Type, Raw: msg.RawJSON()}
}

// Stored content shapes, serialized into Message.Content.

type TextContent struct {
	Text string `json:"text"`
}

type MediaContent struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type InteractiveContent struct {
	InteractiveType string `json:"interactiveType"`
	ButtonID        string `json:"buttonId,omitempty"`
	ListID          string `json:"listId,omitempty"`
	Title           string `json:"title"`
}

type ContactsContent struct {
	Contacts []ContactCard `json:"contacts"`
}

type ContactCard struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones"`
}

type UnsupportedContent struct {
	Unsupported bool            `json:"unsupported"`
	Type        string          `json:"type"`
	RawData     json.RawMessage `json:"rawData"`
}

func interactiveContent(in wa.InteractiveMessage) InteractiveContent {
	c := InteractiveContent{InteractiveType: in.Type}
	switch {
	case in.ButtonReply != nil:
		c.ButtonID = in.ButtonReply.ID
		c.Title = in.ButtonReply.Title
	case in.ListReply != nil:
		c.ListID = in.ListReply.ID
		c.Title = in.ListReply.Title
	}
	return c
}

func contactsContent(cards []wa.SharedContact) ContactsContent {
	out := ContactsContent{Contacts: make([]ContactCard, 0, len(cards))}
	for _, card := range cards {
		phones := make([]string, 0, len(card.Phones))
		for _, p := range card.Phones {
			phones = append(phones, p.Phone)
		}
		out.Contacts = append(out.Contacts, ContactCard{Name: card.Name.FormattedName, Phones: phones})
	}
	return out
}
