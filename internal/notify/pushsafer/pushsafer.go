// Package pushsafer sends detection events through the Pushsafer push API.
package pushsafer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
)

// Name is the transport name used in logs and metrics.
const Name = "pushsafer"

// maxResponseBytes caps how much of the API reply is read.
const maxResponseBytes = 64 << 10

var (
	// errKeyRequired is returned when no private key is configured.
	errKeyRequired = errors.New("pushsafer private key is required")
	// ErrRejected is returned when the API answers with a non-success status.
	ErrRejected = errors.New("pushsafer rejected the message")
)

// Transport posts form messages to the Pushsafer API.
type Transport struct {
	settings config.Pushsafer
	client   *http.Client
}

// response is the subset of the API reply the transport inspects.
type response struct {
	Status  int    `json:"status"`
	Success string `json:"success"`
	Error   string `json:"error"`
}

// New returns a transport for settings. A nil client means http.DefaultClient.
func New(settings config.Pushsafer, client *http.Client) (*Transport, error) {
	if settings.Key == "" {
		return nil, errKeyRequired
	}

	if settings.URL == "" {
		settings.URL = config.DefaultPushsaferURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Transport{
		settings: settings,
		client:   client,
	}, nil
}

// Name implements notify.Transport.
func (t *Transport) Name() string {
	return Name
}

// Send posts the event label as a critical priority message.
func (t *Transport) Send(ctx context.Context, event detector.Event) error {
	body, contentType, err := t.form(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.settings.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var reply response
	if err = json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if reply.Status != 1 {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}

	return nil
}

// form builds the multipart body: k (private key), pr (priority), m (message), d (device).
func (t *Transport) form(event detector.Event) (io.Reader, string, error) {
	var (
		buf    bytes.Buffer
		writer = multipart.NewWriter(&buf)
		fields = [][2]string{
			{"k", t.settings.Key},
			{"pr", strconv.Itoa(t.settings.Priority)},
			{"m", event.Message()},
		}
	)

	if t.settings.Device != "" {
		fields = append(fields, [2]string{"d", t.settings.Device})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
