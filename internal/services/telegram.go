package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// ErrRecipientUnreachable is returned when the recipient has blocked
// the bot. Deliveries failing with it are terminal and never retried.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// InlineButton is one choice presented under a message. Action is
// echoed back in a callback update when the button is tapped.
type InlineButton struct {
	Label  string
	Action string
}

// TelegramUser identifies the sender of an update
type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// TelegramMessage is the subset of an incoming message the bot reads
type TelegramMessage struct {
	From TelegramUser `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// TelegramCallback is an inline-button tap echoed back by the API
type TelegramCallback struct {
	ID   string       `json:"id"`
	From TelegramUser `json:"from"`
	Data string       `json:"data"`
}

// TelegramUpdate is one long-poll result entry
type TelegramUpdate struct {
	UpdateID int64             `json:"update_id"`
	Message  *TelegramMessage  `json:"message"`
	Callback *TelegramCallback `json:"callback_query"`
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// TelegramService is a thin client for the Telegram Bot API
type TelegramService struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTelegramService creates a transport client from environment config
func NewTelegramService() *TelegramService {
	url := os.Getenv("TELEGRAM_API_URL")
	if url == "" {
		url = "https://api.telegram.org"
	}
	return &TelegramService{
		baseURL: url,
		token:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		// long polls hold the connection for up to pollTimeout seconds
		client: &http.Client{Timeout: 40 * time.Second},
	}
}

const pollTimeout = 30

func (s *TelegramService) makeRequest(method string, payload interface{}, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.token, method), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.doRequest(req, out)
}

func (s *TelegramService) doRequest(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.OK {
		if resp.StatusCode == http.StatusForbidden || env.ErrorCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrRecipientUnreachable, env.Description)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, env.Description)
	}

	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func inlineKeyboard(buttons []InlineButton) map[string]interface{} {
	row := make([]map[string]string, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, map[string]string{"text": b.Label, "callback_data": b.Action})
	}
	return map[string]interface{}{"inline_keyboard": [][]map[string]string{row}}
}

// SendMessage delivers a plain text message, optionally with inline buttons
func (s *TelegramService) SendMessage(chatID, text string, buttons ...InlineButton) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if len(buttons) > 0 {
		payload["reply_markup"] = inlineKeyboard(buttons)
	}
	return s.makeRequest("sendMessage", payload, nil)
}

// SendPhoto uploads image bytes with a MarkdownV2 caption, optionally
// with inline buttons. The caption must already be escaped.
func (s *TelegramService) SendPhoto(chatID string, image []byte, caption string, buttons ...InlineButton) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
		if err := writer.WriteField("parse_mode", "MarkdownV2"); err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if len(buttons) > 0 {
		markup, err := json.Marshal(inlineKeyboard(buttons))
		if err != nil {
			return fmt.Errorf("failed to marshal reply markup: %w", err)
		}
		if err := writer.WriteField("reply_markup", string(markup)); err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "qrcode.png")
	if err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/bot%s/sendPhoto", s.baseURL, s.token), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return s.doRequest(req, nil)
}

// GetUpdates long-polls for updates past the given offset
func (s *TelegramService) GetUpdates(ctx context.Context, offset int64) ([]TelegramUpdate, error) {
	payload := map[string]interface{}{
		"offset":  offset,
		"timeout": pollTimeout,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/getUpdates", s.baseURL, s.token), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var updates []TelegramUpdate
	if err := s.doRequest(req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// AnswerCallback acknowledges an inline-button tap so the client
// stops showing a spinner
func (s *TelegramService) AnswerCallback(callbackID string) error {
	return s.makeRequest("answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
	}, nil)
}
