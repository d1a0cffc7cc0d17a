package edgedevice

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Well-known in-cluster service account paths.
const (
	tokenPath  = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	caCertPath = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// Phase is the lifecycle phase reported on the EdgeDevice resource.
type Phase string

const (
	PhasePending Phase = "Pending"
	PhaseRunning Phase = "Running"
	PhaseFailed  Phase = "Failed"
	PhaseUnknown Phase = "Unknown"
)

var (
	// ErrNotFound is returned when the named EdgeDevice resource does
	// not exist in the cluster.
	ErrNotFound = errors.New("edgedevice: resource not found")

	// ErrNoAddress is returned when the resource carries no spec.address.
	ErrNoAddress = errors.New("edgedevice: spec has no address")
)

// Device is the subset of the EdgeDevice resource the adapter reads.
type Device struct {
	Spec struct {
		SKU     string `json:"sku"`
		Address string `json:"address"`
	} `json:"spec"`
	Status struct {
		Phase Phase `json:"edgeDevicePhase"`
	} `json:"status"`
}

// Client talks to the apiserver for a single named EdgeDevice resource.
// It reads spec.address and patches status.edgeDevicePhase; nothing else.
type Client struct {
	http      *http.Client
	baseURL   string
	token     string
	name      string
	namespace string
}

// ClientOption customises client construction.
type ClientOption func(*Client)

// WithBaseURL overrides the apiserver base URL. Used in tests and when
// running outside a cluster against a proxied apiserver.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithToken overrides the bearer token read from the service account
// mount.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a client for the EdgeDevice resource name in
// namespace. Without options it assumes in-cluster execution: the
// apiserver at https://kubernetes.default.svc, the service account
// token and CA from their standard mounts.
func NewClient(name, namespace string, opts ...ClientOption) (*Client, error) {
	if name == "" || namespace == "" {
		return nil, errors.New("edgedevice: name and namespace are required")
	}

	c := &Client{
		name:      name,
		namespace: namespace,
		baseURL:   "https://kubernetes.default.svc",
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		if data, err := os.ReadFile(tokenPath); err == nil {
			c.token = strings.TrimSpace(string(data))
		}
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   10 * time.Second,
			Transport: inClusterTransport(),
		}
	}
	return c, nil
}

// inClusterTransport trusts the cluster CA when the mount is present.
func inClusterTransport() http.RoundTripper {
	data, err := os.ReadFile(caCertPath)
	if err != nil {
		return http.DefaultTransport
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return http.DefaultTransport
	}
	return &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
}

func (c *Client) resourcePath() string {
	return fmt.Sprintf("/apis/shifu.edgenesis.io/v1alpha1/namespaces/%s/edgedevices/%s",
		c.namespace, c.name)
}

// Get fetches the EdgeDevice resource.
func (c *Client) Get(ctx context.Context) (*Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.resourcePath(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.authorise(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching edgedevice: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, apiError("get", resp)
	}

	var dev Device
	if err := json.NewDecoder(resp.Body).Decode(&dev); err != nil {
		return nil, fmt.Errorf("decoding edgedevice: %w", err)
	}
	return &dev, nil
}

// Address returns spec.address of the resource, or ErrNoAddress when
// the field is empty.
func (c *Client) Address(ctx context.Context) (string, error) {
	dev, err := c.Get(ctx)
	if err != nil {
		return "", err
	}
	if dev.Spec.Address == "" {
		return "", ErrNoAddress
	}
	return dev.Spec.Address, nil
}

// PatchPhase merge-patches status.edgeDevicePhase on the status
// subresource.
func (c *Client) PatchPhase(ctx context.Context, phase Phase) error {
	body, err := json.Marshal(map[string]any{
		"status": map[string]any{"edgeDevicePhase": phase},
	})
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}

	url := c.baseURL + c.resourcePath() + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/merge-patch+json")
	c.authorise(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("patching edgedevice status: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return apiError("patch", resp)
	}
}

func (c *Client) authorise(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("edgedevice %s: apiserver returned %d: %s",
		op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
