package offline

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/nfc"
	"github.com/iliyamo/event-admission/internal/validation"
)

// ErrNetwork marks failures to reach the server.  Scans that hit it are
// queued and retried; everything else is a decision or a client error.
var ErrNetwork = errors.New("offline: network unavailable")

// Submission is a scan sent to the server, live or replayed.
type Submission struct {
	Credential string          `json:"credential_signature"`
	ScannerID  string          `json:"scanner_id"`
	Location   *model.Location `json:"location,omitempty"`
	ScannedAt  *time.Time      `json:"scanned_at,omitempty"`
}

// Submitter sends one scan to the validation orchestrator.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (validation.Result, error)
}

// Client talks to the admission server.  Calls go through a circuit
// breaker; while it is open every call fails fast with ErrNetwork.
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *circuitBreaker
}

func NewClient(cfg config.ScannerConfig) *Client {
	return &Client{
		base:    strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: newCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
}

// apiError is a non-2xx answer that is not a server outage.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("server answered %d: %s", e.Status, e.Message) }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.breaker.execute(func() error {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return err
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read body: %v", ErrNetwork, err)
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: server answered %d", ErrNetwork, resp.StatusCode)
		case resp.StatusCode >= 300:
			var msg struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(raw, &msg)
			return &apiError{Status: resp.StatusCode, Message: msg.Message}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}, func(err error) bool { return errors.Is(err, ErrNetwork) })
}

// Submit posts the scan to the server.  A rejected scan is a successful
// call with Accepted false.
func (c *Client) Submit(ctx context.Context, s Submission) (validation.Result, error) {
	var res validation.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/scans", s, &res)
	return res, err
}

// Healthy reports whether the server answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type tagRecordJSON struct {
	Type string `json:"type"`
	Data string `json:"data"` // hex
}

func encodeRecord(rec credential.TagRecord) tagRecordJSON {
	return tagRecordJSON{Type: rec.Type, Data: hex.EncodeToString(rec.Data)}
}

func (r tagRecordJSON) record() (credential.TagRecord, error) {
	data, err := hex.DecodeString(r.Data)
	if err != nil {
		return credential.TagRecord{}, fmt.Errorf("tag record data: %w", err)
	}
	return credential.TagRecord{Type: r.Type, Data: data}, nil
}

// PrepareBinding starts binding a band.
func (c *Client) PrepareBinding(ctx context.Context, bandID string) (nfc.Prepared, error) {
	var out nfc.Prepared
	err := c.do(ctx, http.MethodPost, "/api/v1/bands/"+bandID+"/binding", nil, &out)
	return out, err
}

// BindingSession returns a classifier bound to one binding token, for
// use as the authority of a credential.FallbackClassifier.
func (c *Client) BindingSession(bindingToken string) credential.Classifier {
	return &remoteClassifier{c: c, token: bindingToken}
}

type remoteClassifier struct {
	c     *Client
	token string
}

func (r *remoteClassifier) ClassifyTag(ctx context.Context, rec credential.TagRecord) (credential.Classification, error) {
	var out nfc.TagRead
	err := r.c.do(ctx, http.MethodPost, "/api/v1/binding/read", map[string]any{
		"binding_token": r.token,
		"record":        encodeRecord(rec),
	}, &out)
	if err != nil {
		return credential.Classification{}, err
	}
	return credential.Classification{State: out.State, Authoritative: true}, nil
}

// WritePayload asks the server for the signed payload to write.
func (c *Client) WritePayload(ctx context.Context, bindingToken string) (credential.TagRecord, error) {
	var out struct {
		Record tagRecordJSON `json:"record"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/binding/write", map[string]string{"binding_token": bindingToken}, &out); err != nil {
		return credential.TagRecord{}, err
	}
	return out.Record.record()
}

// ConfirmBinding sends the tag's challenge response and written record.
func (c *Client) ConfirmBinding(ctx context.Context, bindingToken string, response []byte, rec credential.TagRecord) (nfc.Confirmed, error) {
	var out nfc.Confirmed
	err := c.do(ctx, http.MethodPost, "/api/v1/binding/confirm", map[string]any{
		"binding_token": bindingToken,
		"response":      hex.EncodeToString(response),
		"record":        encodeRecord(rec),
	}, &out)
	return out, err
}
