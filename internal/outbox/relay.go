package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// DefaultEndpoint is the Web3Forms submission API.
const DefaultEndpoint = "https://api.web3forms.com/submit"

const defaultFailureMessage = "Something went wrong"

// Deliverer sends one submission to its final destination.
type Deliverer interface {
	Deliver(ctx context.Context, s Submission) error
}

// Relay delivers submissions to a Web3Forms compatible API.
type Relay struct {
	endpoint  string
	accessKey string
	client    *http.Client
}

// NewRelay creates a relay posting to endpoint. An empty endpoint means DefaultEndpoint
// and a nil client means http.DefaultClient.
func NewRelay(endpoint, accessKey string, client *http.Client) *Relay {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{endpoint: endpoint, accessKey: accessKey, client: client}
}

type relayRequest struct {
	AccessKey string `json:"access_key"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

type relayReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Deliver posts s to the relay. Transport failures and unreadable replies are
// CodeNetwork errors; a reply with success=false is a CodeExecutionFailed
// error carrying the relay's message.
func (r *Relay) Deliver(ctx context.Context, s Submission) error {
	payload, err := json.Marshal(relayRequest{
		AccessKey: r.accessKey,
		Name:      s.Name,
		Email:     s.Email,
		Subject:   s.Subject,
		Message:   s.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to reach form relay")
	}
	defer func() { _ = resp.Body.Close() }()

	var reply relayReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return errors.WithContext(
			errors.Wrap(err, errors.CodeNetwork, "failed to decode form relay reply"),
			"status", resp.StatusCode)
	}
	if !reply.Success {
		msg := reply.Message
		if msg == "" {
			msg = defaultFailureMessage
		}
		return errors.WithContext(errors.New(errors.CodeExecutionFailed, msg), "status", resp.StatusCode)
	}
	return nil
}
