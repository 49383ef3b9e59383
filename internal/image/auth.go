package image

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/sirupsen/logrus"
)

// Matches Amazon ECR registry hosts and captures the region.
var ecrHost = regexp.MustCompile(`^\d{12}\.dkr\.ecr(?:-fips)?\.([a-z0-9-]+)\.amazonaws\.com(?:\.cn)?$`)

// Looks up registry credentials for a host.
//
// An empty user and secret means anonymous access.
type Credentials interface {
	Lookup(ctx context.Context, host string) (user, secret string, err error)
}

// Fixed user and secret, used for every host.
type StaticCredentials struct {
	Username string
	Password string
}

// Returns the configured user and secret.
func (c StaticCredentials) Lookup(ctx context.Context, host string) (string, string, error) {
	return c.Username, c.Password, nil
}

// Fetches ECR authorization tokens for ECR hosts and falls back to static
// credentials for every other host.
type registryCredentials struct {
	static StaticCredentials // Credentials for non-ECR hosts.
	region string            // AWS region override, empty to use the host's region.

	mu     sync.Mutex
	tokens map[string][2]string // ECR user and secret, keyed by host.
}

// Creates credentials that use ECR for Amazon ECR hosts and the static
// credentials for every other host.
//
// The AWS configuration is loaded from the default credential chain when an
// ECR host is first contacted. When region is empty the region embedded in
// the host name is used.
func NewCredentials(static StaticCredentials, region string) Credentials {
	return &registryCredentials{
		static: static,
		region: region,
		tokens: make(map[string][2]string),
	}
}

// Returns credentials for the given host.
func (c *registryCredentials) Lookup(ctx context.Context, host string) (string, string, error) {
	region, ok := ecrRegion(host)
	if !ok {
		return c.static.Lookup(ctx, host)
	}
	if c.region != "" {
		region = c.region
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tokens[host]; ok {
		return t[0], t[1], nil
	}

	user, secret, err := fetchECRToken(ctx, region)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrCredentials, host, err)
	}

	logrus.WithFields(logrus.Fields{"host": host, "region": region}).Debug("fetched ECR authorization token")

	c.tokens[host] = [2]string{user, secret}
	return user, secret, nil
}

// Requests an ECR authorization token and splits it into user and secret.
func fetchECRToken(ctx context.Context, region string) (string, string, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", "", err
	}

	out, err := ecr.NewFromConfig(cfg).GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", err
	}
	if n := len(out.AuthorizationData); n != 1 {
		return "", "", fmt.Errorf("expected 1 authorization token from ECR, received %d", n)
	}
	if out.AuthorizationData[0].AuthorizationToken == nil {
		return "", "", fmt.Errorf("ECR returned an empty authorization token")
	}

	return decodeAuthorizationToken(*out.AuthorizationData[0].AuthorizationToken)
}

// Decodes a base64 "user:secret" authorization token.
func decodeAuthorizationToken(token string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decoding authorization token: %w", err)
	}

	user, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || user == "" {
		return "", "", fmt.Errorf("authorization token is not of the form user:secret")
	}
	return user, secret, nil
}

// Returns the AWS region of an ECR host.
func ecrRegion(host string) (string, bool) {
	m := ecrHost.FindStringSubmatch(host)
	if m == nil {
		return "", false
	}
	return m[1], true
}
