package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
)

const (

	// Path of the deployments collection.
	deploymentsPath = "/api/v2/deployments"

	// Environment variable carrying the service configuration of a deployment.
	EnvDeploymentConfig = "DYN_DEPLOYMENT_CONFIG"

	// Default time to wait for a deployment to become ready.
	DefaultTimeout = time.Hour

	requestTimeout = 30 * time.Second
)

// Deployment states reported by the API.
const (
	StatusRunning          = "running"
	StatusFailed           = "failed"
	StatusImageBuildFailed = "image-build-failed"
)

// An environment variable of a deployment.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parameters of a new deployment.
type DeploymentRequest struct {
	Name    string            `json:"name,omitempty"`    // Deployment name, generated by the server when empty.
	Bento   string            `json:"bento"`             // Build tag ("name:version") to deploy.
	Cluster string            `json:"cluster,omitempty"` // Target cluster, the default when empty.
	Envs    []EnvVar          `json:"envs,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Dev     bool              `json:"dev,omitempty"`
}

// A deployment as reported by the API.
type Deployment struct {
	Name      string            `json:"name"`
	Cluster   string            `json:"cluster"`
	Bento     string            `json:"bento"`
	Status    string            `json:"status"`
	URLs      []string          `json:"urls,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Filters of [Client.List].
type ListOptions struct {
	Cluster string
	Search  string
	Query   string            // Advanced query string.
	Labels  map[string]string // Label filters, folded into the query.
	Dev     bool
}

// Body of API error responses.
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Page of deployments.
type deploymentList struct {
	Items []Deployment `json:"items"`
	Total int          `json:"total"`
}

// A Dynamo Cloud API client.
type Client struct {
	http         *resty.Client
	pollInterval time.Duration
}

// Configures a [Client].
type Option func(*Client)

// Sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.http.SetHeader("User-Agent", ua)
	}
}

// Creates a client for the endpoint, authenticating with token.
//
// Returns [ErrNotLoggedIn] when no endpoint is configured.
func New(endpoint, token string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, ErrNotLoggedIn
	}

	rc := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json").
		SetResponseBodyUnlimitedReads(true).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if token != "" {
		rc.SetAuthToken(token)
	}

	c := &Client{http: rc, pollInterval: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Releases the client's connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Returns a deployment request for a build, carrying the service
// configuration in DYN_DEPLOYMENT_CONFIG when there is one.
func NewDeploymentRequest(name, bento string, cfg graph.Config) (DeploymentRequest, error) {
	req := DeploymentRequest{Name: name, Bento: bento}

	configJSON, err := cfg.JSON()
	if err != nil {
		return DeploymentRequest{}, err
	}
	if configJSON != "" {
		logrus.WithField("config", configJSON).Debug("deployment service configuration")
		req.Envs = append(req.Envs, EnvVar{Name: EnvDeploymentConfig, Value: configJSON})
	}
	return req, nil
}

// Creates a deployment.
func (c *Client) Create(ctx context.Context, req DeploymentRequest) (*Deployment, error) {
	if req.Bento == "" {
		return nil, fmt.Errorf("%w: no build to deploy", ErrCloud)
	}

	var d Deployment
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&d).
		SetError(&apiError{}).
		Post(deploymentsPath)
	if err := check(res, err, "create", req.Name); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"name": d.Name, "cluster": d.Cluster}).Info("deployment created")
	return &d, nil
}

// Returns a deployment by name.
func (c *Client) Get(ctx context.Context, name, cluster string) (*Deployment, error) {
	var d Deployment
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetQueryParams(clusterParam(cluster)).
		SetResult(&d).
		SetError(&apiError{}).
		Get(deploymentsPath + "/{name}")
	if err := check(res, err, "get", name); err != nil {
		return nil, err
	}
	return &d, nil
}

// Lists deployments matching the filters.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Deployment, error) {
	params := clusterParam(opts.Cluster)
	if opts.Search != "" {
		params["search"] = opts.Search
	}
	if q := Query(opts.Query, opts.Labels); q != "" {
		params["q"] = q
	}
	if opts.Dev {
		params["dev"] = strconv.FormatBool(true)
	}

	var list deploymentList
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&list).
		SetError(&apiError{}).
		Get(deploymentsPath)
	if err := check(res, err, "list", ""); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Deletes a deployment.
func (c *Client) Delete(ctx context.Context, name, cluster string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetQueryParams(clusterParam(cluster)).
		SetError(&apiError{}).
		Delete(deploymentsPath + "/{name}")
	if err := check(res, err, "delete", name); err != nil {
		return err
	}

	logrus.WithField("name", name).Info("deployment deleted")
	return nil
}

// Folds label filters into a query string as "label:key=value" terms,
// appended to q in key order.
func Query(q string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys)+1)
	if q = strings.TrimSpace(q); q != "" {
		terms = append(terms, q)
	}
	for _, k := range keys {
		terms = append(terms, "label:"+k+"="+labels[k])
	}
	return strings.Join(terms, " ")
}

// Returns the query parameters selecting a cluster.
func clusterParam(cluster string) map[string]string {
	params := map[string]string{}
	if cluster != "" {
		params["cluster"] = cluster
	}
	return params
}

// Converts a failed request into an error.
func check(res *resty.Response, err error, action, name string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s deployment: %w", ErrCloud, action, err)
	}
	if res.IsSuccess() {
		return nil
	}

	msg := res.String()
	if e, ok := res.Error().(*apiError); ok && e != nil {
		if e.Message != "" {
			msg = e.Message
		} else if e.Error != "" {
			msg = e.Error
		}
	}

	switch res.StatusCode() {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case http.StatusConflict:
		return fmt.Errorf("%w: %q. Use a different name with --name, or delete it with: dynamo deployment delete %s", ErrAlreadyExists, name, name)
	}
	return fmt.Errorf("%w: %s deployment: %s: %s", ErrCloud, action, res.Status(), msg)
}
