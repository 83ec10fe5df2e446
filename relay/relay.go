package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	SuccessMessage    = "Form submitted successfully!"
	FailureMessage    = "Failed to submit form. Please try again."
	ValidationMessage = "Title and body are required."
)

// Draft is the notification as entered by the operator.
type Draft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Outcome is the result of exactly one submission attempt.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *Draft `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Succeeded builds the success outcome echoing the forwarded draft.
func Succeeded(d Draft) Outcome {
	return Outcome{Success: true, Message: SuccessMessage, Data: &d}
}

// Failed builds the generic failure outcome. diag is for operators and logs only.
func Failed(diag string) Outcome {
	return Outcome{Success: false, Message: FailureMessage, Error: diag}
}

// Settings are the dispatcher knobs that may change on config reload.
type Settings struct {
	BroadcastURL  string
	Timeout       time.Duration
	RequireFields bool
}

// Dispatcher forwards drafts to the broadcast collaborator.
type Dispatcher struct {
	client   *http.Client
	settings atomic.Pointer[Settings]
	logger   zerolog.Logger
}

// New creates a Dispatcher. A nil client gets a default one that does not follow redirects.
func New(s Settings, client *http.Client, logger zerolog.Logger) (*Dispatcher, error) {
	if client == nil {
		client = &http.Client{}
	}
	// 3xx is treated as failure, so the redirect target is never contacted.
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	d := &Dispatcher{client: &c, logger: logger}
	if err := d.Apply(s); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply swaps the dispatcher settings. In-flight dispatches keep the old ones.
func (d *Dispatcher) Apply(s Settings) error {
	if strings.TrimSpace(s.BroadcastURL) == "" {
		return ErrNoBroadcastURL
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	d.settings.Store(&s)
	return nil
}

func (d *Dispatcher) Settings() Settings {
	return *d.settings.Load()
}

// Dispatch validates and forwards one draft and always returns a well formed outcome.
// Cancellation of ctx does not abort the outbound call; only the configured timeout does.
func (d *Dispatcher) Dispatch(ctx context.Context, draft Draft) (out Outcome) {
	s := d.Settings()
	log := zerolog.Ctx(ctx)
	if log.GetLevel() == zerolog.Disabled {
		log = &d.logger
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Sprintf("dispatch panic: %v", r))
			log.Error().Interface("panic", r).Msg("dispatch panicked")
		}
	}()

	if s.RequireFields {
		if missing := missingFields(draft); len(missing) > 0 {
			log.Warn().Strs("missing", missing).Str("reason", "validation_failed").Msg("draft rejected")
			return Outcome{
				Success: false,
				Message: ValidationMessage,
				Error:   "validation failed: missing " + strings.Join(missing, ", "),
			}
		}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	status, err := d.forward(fctx, s.BroadcastURL, draft)
	elapsed := time.Since(start)
	if err != nil {
		var rejected *RejectedError
		reason := "transport_failure"
		if errors.As(err, &rejected) {
			reason = "collaborator_rejected"
		}
		log.Error().Err(err).Str("reason", reason).Int("status", status).Dur("duration", elapsed).Msg("broadcast failed")
		return Failed(err.Error())
	}

	log.Info().Int("status", status).Dur("duration", elapsed).Msg("broadcast sent")
	return Succeeded(draft)
}

// RejectedError reports a non-2xx answer from the collaborator.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("webhook failed: %d", e.StatusCode)
}

func (d *Dispatcher) forward(ctx context.Context, target string, draft Draft) (int, error) {
	body, err := EncodeDraft(draft)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &RejectedError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// EncodeDraft renders the outbound JSON without HTML escaping and without a trailing newline.
func EncodeDraft(d Draft) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func missingFields(d Draft) []string {
	var missing []string
	if d.Title == "" {
		missing = append(missing, "title")
	}
	if d.Body == "" {
		missing = append(missing, "body")
	}
	return missing
}
