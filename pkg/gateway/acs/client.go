package acs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CallClient answers incoming calls through Call Automation.
type CallClient interface {
	// Answer accepts an incoming call, attaching bidirectional media
	// streaming pointed at websocketURL. It returns the call connection id
	// used to correlate later lifecycle callbacks.
	Answer(ctx context.Context, incomingCallContext, callbackURL, websocketURL string) (string, error)
}

const answerAPIVersion = "2024-04-15"

// mediaStreamingOptions mirrors the Call Automation answer request's media
// streaming block: mixed-channel 24kHz mono PCM over a bidirectional
// websocket, started as soon as the call connects.
type mediaStreamingOptions struct {
	TransportURL        string `json:"transportUrl"`
	TransportType       string `json:"transportType"`
	ContentType         string `json:"contentType"`
	AudioChannelType    string `json:"audioChannelType"`
	StartMediaStreaming bool   `json:"startMediaStreaming"`
	EnableBidirectional bool   `json:"enableBidirectional"`
	AudioFormat         string `json:"audioFormat"`
}

type answerRequest struct {
	IncomingCallContext   string                `json:"incomingCallContext"`
	CallbackURI           string                `json:"callbackUri"`
	OperationContext      string                `json:"operationContext"`
	MediaStreamingOptions mediaStreamingOptions `json:"mediaStreamingOptions"`
}

type answerResponse struct {
	CallConnectionID string `json:"callConnectionId"`
}

// HTTPCallClient is a CallClient speaking the Call Automation REST API with
// ACS connection-string HMAC authentication.
type HTTPCallClient struct {
	endpoint  *url.URL
	accessKey []byte
	client    *http.Client
}

// NewHTTPCallClient builds a client from an ACS connection string of the
// form "endpoint=https://...;accesskey=...".
func NewHTTPCallClient(connectionString string) (*HTTPCallClient, error) {
	endpoint, key, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ACS endpoint: %w", err)
	}
	accessKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("decode ACS access key: %w", err)
	}
	return &HTTPCallClient{
		endpoint:  u,
		accessKey: accessKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func parseConnectionString(cs string) (endpoint, accessKey string, err error) {
	for _, part := range strings.Split(cs, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "endpoint":
			endpoint = strings.TrimRight(v, "/")
		case "accesskey":
			accessKey = v
		}
	}
	if endpoint == "" || accessKey == "" {
		return "", "", errors.New("connection string must contain endpoint and accesskey")
	}
	return endpoint, accessKey, nil
}

// Answer implements CallClient.
func (c *HTTPCallClient) Answer(ctx context.Context, incomingCallContext, callbackURL, websocketURL string) (string, error) {
	body, err := json.Marshal(answerRequest{
		IncomingCallContext: incomingCallContext,
		CallbackURI:         callbackURL,
		OperationContext:    "incomingCall",
		MediaStreamingOptions: mediaStreamingOptions{
			TransportURL:        websocketURL,
			TransportType:       "websocket",
			ContentType:         "audio",
			AudioChannelType:    "mixed",
			StartMediaStreaming: true,
			EnableBidirectional: true,
			AudioFormat:         "Pcm24KMono",
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal answer request: %w", err)
	}

	reqURL := *c.endpoint
	reqURL.Path = "/calling/callConnections:answer"
	reqURL.RawQuery = url.Values{"api-version": []string{answerAPIVersion}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, body)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("answer call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read answer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("answer call: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed answerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse answer response: %w", err)
	}
	if parsed.CallConnectionID == "" {
		return "", errors.New("answer response missing callConnectionId")
	}
	return parsed.CallConnectionID, nil
}

// sign applies ACS shared-key request signing: the signature covers the
// verb, the path and query, the date, the host and the body hash.
func (c *HTTPCallClient) sign(req *http.Request, body []byte) {
	contentHash := sha256.Sum256(body)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])
	date := time.Now().UTC().Format(http.TimeFormat)

	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	stringToSign := req.Method + "\n" + pathAndQuery + "\n" +
		date + ";" + req.URL.Host + ";" + contentHashB64

	mac := hmac.New(sha256.New, c.accessKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}
