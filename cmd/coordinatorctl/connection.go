package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Client of the coordinator HTTP API.
type Client struct {
	uri    string
	client http.Client
}

func NewClient(uri string) *Client {
	return &Client{uri: strings.TrimRight(uri, "/")}
}

func NewCoordinatorClient() *Client {
	return NewClient(configData.CoordinatorUri)
}

func DefaultDeadlineContext() (context.Context, func()) {
	return context.WithDeadline(context.Background(), time.Now().Add(time.Second*30))
}

// Sends a request with an optional JSON body and decodes the JSON
// response into out, unless out is nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.uri+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(response.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", response.Status, apiErr.Message)
		}
		return fmt.Errorf("%s", response.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}
