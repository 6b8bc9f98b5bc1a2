package whatsapp

// Webhook payload shapes for the WhatsApp Cloud API. Only the fields
// the pipeline reads are mapped; unknown fields are ignored on decode.

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []Status         `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

// InboundMessage is one message object inside a webhook batch.
// Timestamp is unix seconds as a decimal string.
type InboundMessage struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	Timestamp string     `json:"timestamp"`
	Type      string     `json:"type"`
	Text      *TextBody  `json:"text,omitempty"`
	Image     *MediaBody `json:"image,omitempty"`
	Audio     *MediaBody `json:"audio,omitempty"`
	Video     *MediaBody `json:"video,omitempty"`
	Document  *MediaBody `json:"document,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// Status is a delivery receipt; the pipeline ignores these but decodes
// them so status-only batches parse cleanly.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// SendMessageRequest is the outbound text message body.
type SendMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

// SendMessageResponse carries the provider-assigned message ID.
type SendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the assigned ID of the first sent message.
func (r *SendMessageResponse) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}
