package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
)

// Client talks to the media engine's control API over HTTP. It implements
// Engine; every failure it returns is already wrapped as an engine error.
type Client struct {
	base string
	http *http.Client
}

type ClientOptions struct {
	// Addr is the base URL of the engine control API.
	Addr    string
	Timeout time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("engine client: empty addr")
	}
	if _, err := url.Parse(opts.Addr); err != nil {
		return nil, fmt.Errorf("engine client: bad addr: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		base: opts.Addr,
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

var _ Engine = (*Client)(nil)

func (c *Client) GetOrCreateRouter(ctx context.Context, classID string) (Router, error) {
	var out Router
	err := c.do(ctx, http.MethodPut, "/v1/routers/"+url.PathEscape(classID), nil, &out)
	return out, err
}

func (c *Client) AddParticipant(ctx context.Context, classID, userID string, meta ParticipantMeta) error {
	path := "/v1/routers/" + url.PathEscape(classID) + "/participants/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodPut, path, meta, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, classID, userID string) error {
	path := "/v1/routers/" + url.PathEscape(classID) + "/participants/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) CreateWebRtcTransport(ctx context.Context, classID string, direction domain.Direction) (Transport, error) {
	in := struct {
		Direction domain.Direction `json:"direction"`
	}{Direction: direction}
	var out Transport
	path := "/v1/routers/" + url.PathEscape(classID) + "/transports"
	err := c.do(ctx, http.MethodPost, path, in, &out)
	return out, err
}

func (c *Client) ConnectWebRtcTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error {
	in := struct {
		DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	}{DTLSParameters: dtls}
	return c.do(ctx, http.MethodPost, "/v1/transports/"+url.PathEscape(transportID)+"/connect", in, nil)
}

func (c *Client) CreateProducer(ctx context.Context, req CreateProducerRequest) (string, error) {
	var out struct {
		ProducerID string `json:"producerId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/producers", req, &out); err != nil {
		return "", err
	}
	return out.ProducerID, nil
}

func (c *Client) CreateConsumer(ctx context.Context, req CreateConsumerRequest) (Consumer, error) {
	var out Consumer
	err := c.do(ctx, http.MethodPost, "/v1/consumers", req, &out)
	return out, err
}

func (c *Client) ResumeConsumer(ctx context.Context, consumerID string) error {
	return c.do(ctx, http.MethodPost, "/v1/consumers/"+url.PathEscape(consumerID)+"/resume", nil, nil)
}

func (c *Client) CloseProducer(ctx context.Context, producerID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/producers/"+url.PathEscape(producerID), nil, nil)
}

func (c *Client) GetExistingProducers(ctx context.Context, classID string) ([]RemoteProducer, error) {
	var out struct {
		Producers []RemoteProducer `json:"producers"`
	}
	path := "/v1/routers/" + url.PathEscape(classID) + "/producers"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Producers, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return domain.EngineFailure(fmt.Errorf("encode %s %s: %w", method, path, err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return domain.EngineFailure(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.EngineFailure(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		var msg string
		if b, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<10)); readErr == nil {
			if json.Unmarshal(b, &e) == nil && e.Error != "" {
				msg = e.Error
			} else {
				msg = string(b)
			}
		}
		return domain.EngineFailure(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.EngineFailure(fmt.Errorf("decode %s %s: %w", method, path, err))
		}
	}
	return nil
}
