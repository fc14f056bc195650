package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
)

// SendOutcome is the normalized per-message result of a send call,
// identical across response versions 1..4. Accepted follows the upstream
// contract's convention: a real tracking id is longer than 4 characters,
// short numeric values are error codes.
type SendOutcome struct {
	CorrelationID string
	ReturnID      string
	Parts         int
	Upstream      string
	Accepted      bool
}

// resultEnvelope is the upstream's uniform response wrapper.
type resultEnvelope[T any] struct {
	Message    string `json:"Message"`
	Succeeded  bool   `json:"Succeeded"`
	Data       T      `json:"Data"`
	ResultCode int    `json:"ResultCode"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type resultV4 struct {
	ID              string `json:"Id"`
	UpstreamGateway string `json:"UpstreamGateway"`
	Part            int    `json:"Part"`
}

type kvPair struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Client issues authenticated calls against the upstream SMS gateway. It
// reads endpoint settings from the live configuration snapshot on every
// call so that reloads take effect without a restart.
type Client struct {
	store      *config.Store
	logger     *slog.Logger
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewClient creates a gateway client. A nil httpClient gets a default;
// per-call timeouts come from the endpoint settings.
func NewClient(store *config.Store, logger *slog.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		store:      store,
		logger:     logger.With("component", "gateway_client"),
		httpClient: httpClient,
	}
}

// UsingAPIKey reports whether the client authenticates with a static API
// key instead of bearer tokens.
func (c *Client) UsingAPIKey() bool {
	return c.store.Current().Endpoint.UseAPIKey
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) callTimeout() time.Duration {
	secs := c.store.Current().Endpoint.TimeoutSeconds
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func joinURL(base string, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) setAuthHeaders(req *http.Request) {
	ep := c.store.Current().Endpoint
	if ep.UseAPIKey {
		req.Header.Set("X-API-Key", ep.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token())
	}
}

// Authenticate posts the configured credentials to /connect/token and
// stores the returned bearer token. It is a no-op requirement only in
// API-key mode; callers guard on UsingAPIKey.
func (c *Client) Authenticate(ctx context.Context) error {
	ep := c.store.Current().Endpoint
	c.logger.InfoContext(ctx, "Start getting token")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("username", ep.UserName); err != nil {
		return fmt.Errorf("failed to build token form: %w", err)
	}
	if err := form.WriteField("password", ep.Password); err != nil {
		return fmt.Errorf("failed to build token form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("failed to build token form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(ep.BaseAddress, "connect/token"), &body)
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindAuthFailure, StatusCode: resp.StatusCode, Message: "token request rejected"}
	}

	var data tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return &Error{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	c.mu.Lock()
	c.accessToken = data.AccessToken
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Token acquired")
	return nil
}

// Send posts one gzip-compressed JSON batch to the versioned send endpoint
// and returns one outcome per message, in input order.
func (c *Client) Send(ctx context.Context, batch []domain.MessageSendModel) ([]SendOutcome, error) {
	settings := c.store.Current()
	ep := settings.Endpoint

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send batch: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress send batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress send batch: %w", err)
	}

	url := joinURL(ep.BaseAddress, fmt.Sprintf("api/%d/message/send?returnLongId=%t", ep.APIVersion, ep.ReturnLongID))

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.logger.DebugContext(ctx, "Send response", "body", string(respBody))
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.Udh
		}
		outcomes, err := c.parseSendResponse(ctx, ep.APIVersion, respBody, ids)
		if err != nil {
			return nil, &Error{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return outcomes, nil
	case http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthFailure, StatusCode: resp.StatusCode, Message: "send rejected"}
	case http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: "send throttled"}
	default:
		return nil, &Error{Kind: KindUpstreamRejected, StatusCode: resp.StatusCode, Message: excerpt(respBody)}
	}
}

// parseSendResponse normalizes the version-specific send response shapes.
// Every version yields exactly one outcome per input id, in input order.
// v2's auxiliary value (mcc) rides in the Upstream slot because both feed
// the same column of the after-send write-back.
func (c *Client) parseSendResponse(ctx context.Context, version int, body []byte, ids []string) ([]SendOutcome, error) {
	outcomes := make([]SendOutcome, 0, len(ids))

	switch version {
	case 4:
		var envelope resultEnvelope[[]resultV4]
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Data) != len(ids) {
			return nil, fmt.Errorf("send response has %d results for %d messages", len(envelope.Data), len(ids))
		}
		for i, d := range envelope.Data {
			outcomes = append(outcomes, SendOutcome{
				CorrelationID: ids[i],
				ReturnID:      d.ID,
				Parts:         d.Part,
				Upstream:      d.UpstreamGateway,
				Accepted:      accepted(d.ID),
			})
		}
	case 3, 2:
		var envelope resultEnvelope[[]kvPair]
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Data) != len(ids) {
			return nil, fmt.Errorf("send response has %d results for %d messages", len(envelope.Data), len(ids))
		}
		for i, d := range envelope.Data {
			outcome := SendOutcome{
				CorrelationID: ids[i],
				ReturnID:      d.Key,
				Accepted:      accepted(d.Key),
			}
			if version == 3 {
				parts, perr := strconv.Atoi(d.Value)
				if perr != nil {
					c.logger.DebugContext(ctx, "Unparseable part count in send response", "value", d.Value, "return_id", d.Key)
				}
				outcome.Parts = parts
			} else {
				outcome.Upstream = d.Value
			}
			outcomes = append(outcomes, outcome)
		}
	case 1:
		var envelope resultEnvelope[[]string]
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Data) != len(ids) {
			return nil, fmt.Errorf("send response has %d results for %d messages", len(envelope.Data), len(ids))
		}
		for i, d := range envelope.Data {
			outcomes = append(outcomes, SendOutcome{
				CorrelationID: ids[i],
				ReturnID:      d,
				Accepted:      accepted(d),
			})
		}
	default:
		return nil, fmt.Errorf("unsupported api version %d", version)
	}

	return outcomes, nil
}

// accepted applies the upstream convention: tracking ids are longer than 4
// characters, short numeric values are error codes.
func accepted(returnID string) bool {
	return len(returnID) > 4
}

// GetDLR posts a tracking-id page and returns the delivery states the
// gateway knows about. A 404 means "no delivery yet" and returns an empty
// result, not an error.
func (c *Client) GetDLR(ctx context.Context, ids []string) ([]domain.DlrStatus, error) {
	ep := c.store.Current().Endpoint

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dlr ids: %w", err)
	}

	url := joinURL(ep.BaseAddress, fmt.Sprintf("api/message/GetDLR?returnLongId=%t", ep.ReturnLongID))

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create dlr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope resultEnvelope[[]domain.DlrStatus]
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, &Error{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return envelope.Data, nil
	case http.StatusNotFound:
		c.logger.DebugContext(ctx, "No delivery yet for requested ids", "count", len(ids))
		return nil, nil
	case http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthFailure, StatusCode: resp.StatusCode, Message: "dlr request rejected"}
	default:
		return nil, &Error{Kind: KindUpstreamRejected, StatusCode: resp.StatusCode, Message: excerpt(respBody)}
	}
}

// GetMO fetches pending inbound messages. A 404 means there are none.
func (c *Client) GetMO(ctx context.Context) ([]domain.MoDto, error) {
	ep := c.store.Current().Endpoint

	url := joinURL(ep.BaseAddress, "api/message/GetMO?returnId=true")

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mo request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope resultEnvelope[[]domain.MoDto]
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, &Error{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return envelope.Data, nil
	case http.StatusNotFound:
		c.logger.DebugContext(ctx, "No inbound messages pending")
		return nil, nil
	case http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthFailure, StatusCode: resp.StatusCode, Message: "mo request rejected"}
	default:
		return nil, &Error{Kind: KindUpstreamRejected, StatusCode: resp.StatusCode, Message: excerpt(respBody)}
	}
}

func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
