package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"whatsapp-inbox/internal/config"
)

// ErrTemplateNotFound is returned by GetTemplateByName when the provider has
// no template with that name.
var ErrTemplateNotFound = errors.New("template not found")

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

// Client is a thin typed wrapper around Meta's Graph API.
type Client struct {
	Config     *config.Config
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// --- Response Structures ---

type PhoneNumberDetails struct {
	ID                     string `json:"id"`
	VerifiedName           string `json:"verified_name"`
	DisplayPhoneNumber     string `json:"display_phone_number"`
	CodeVerificationStatus string `json:"code_verification_status"`
}

type WabaDetails struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	TimezoneID               string `json:"timezone_id"`
	MessageTemplateNamespace string `json:"message_template_namespace"`
	OwnershipType            string `json:"ownership_type,omitempty"`
}

type Template struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Category   string          `json:"category"`
	Status     string          `json:"status"`
	Components json.RawMessage `json:"components"`
}

type MediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// TemplateRequest is the body of a create-template call.
type TemplateRequest struct {
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Category   string          `json:"category"`
	Components json.RawMessage `json:"components"`
}

type CreateTemplateResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

type templatePage struct {
	Data   []Template `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = string(body)
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, url string, dest any) error {
	resp, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(resp, dest), "decode response")
}

// --- Messaging Methods ---

// SendText sends a text message from phoneNumberID and returns the provider
// message id.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	}

	resp, err := c.sendRequest(ctx, http.MethodPost, c.Config.GraphURL(phoneNumberID+"/messages"), msg)
	if err != nil {
		return "", err
	}

	var sent struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(resp, &sent); err != nil {
		return "", errors.Wrap(err, "decode send response")
	}
	if len(sent.Messages) == 0 {
		return "", errors.New("send response carried no message id")
	}
	return sent.Messages[0].ID, nil
}

// --- Phone Number / Account Methods ---

func (c *Client) GetPhoneNumberDetails(ctx context.Context, phoneNumberID string) (*PhoneNumberDetails, error) {
	u := c.Config.GraphURL(phoneNumberID) + "?fields=id,verified_name,display_phone_number,code_verification_status"
	var details PhoneNumberDetails
	if err := c.getJSON(ctx, u, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// GetWaba fetches the configured WhatsApp Business Account.
func (c *Client) GetWaba(ctx context.Context) (*WabaDetails, error) {
	u := c.Config.GraphURL(c.Config.WhatsAppBusinessAccountID) + "?fields=id,name,timezone_id,message_template_namespace"
	var details WabaDetails
	if err := c.getJSON(ctx, u, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// --- Media Methods ---

func (c *Client) GetMediaMetadata(ctx context.Context, mediaID string) (*MediaMetadata, error) {
	var meta MediaMetadata
	if err := c.getJSON(ctx, c.Config.GraphURL(mediaID), &meta); err != nil {
		return nil, err
	}
	if meta.URL == "" {
		return nil, errors.Errorf("media %s has no download url", mediaID)
	}
	return &meta, nil
}

// DownloadMedia fetches the binary behind a signed media URL. The URL needs
// the same bearer token as the API itself.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	return c.sendRequest(ctx, http.MethodGet, mediaURL, nil)
}

// --- Template Management Methods ---

// GetTemplates returns the full template catalog of an account, following
// pagination.
func (c *Client) GetTemplates(ctx context.Context, wabaAccountID string) ([]Template, error) {
	next := c.Config.GraphURL(wabaAccountID+"/message_templates") + "?fields=id,name,language,category,status,components&limit=100"

	var templates []Template
	for next != "" {
		var page templatePage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		templates = append(templates, page.Data...)
		next = page.Paging.Next
	}
	return templates, nil
}

// GetTemplateByName returns the template with exactly this name. An empty
// language matches any language.
func (c *Client) GetTemplateByName(ctx context.Context, wabaAccountID, name, language string) (*Template, error) {
	u := c.Config.GraphURL(wabaAccountID+"/message_templates") +
		"?fields=id,name,language,category,status,components&name=" + url.QueryEscape(name)

	var page templatePage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	// the name filter is a prefix match on the provider side
	for i := range page.Data {
		t := &page.Data[i]
		if t.Name == name && (language == "" || t.Language == language) {
			return t, nil
		}
	}
	return nil, ErrTemplateNotFound
}

func (c *Client) CreateTemplate(ctx context.Context, wabaAccountID string, tmpl TemplateRequest) (*CreateTemplateResponse, error) {
	resp, err := c.sendRequest(ctx, http.MethodPost, c.Config.GraphURL(wabaAccountID+"/message_templates"), tmpl)
	if err != nil {
		return nil, err
	}

	var created CreateTemplateResponse
	if err := json.Unmarshal(resp, &created); err != nil {
		return nil, errors.Wrap(err, "decode create template response")
	}
	return &created, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, wabaAccountID, templateName string) error {
	u := c.Config.GraphURL(wabaAccountID+"/message_templates") + "?name=" + url.QueryEscape(templateName)
	_, err := c.sendRequest(ctx, http.MethodDelete, u, nil)
	return err
}
