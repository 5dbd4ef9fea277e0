// Package relay fetches target pages through a rotating list of public CORS
// relay endpoints with linear backoff.
package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// URLPlaceholder marks where the encoded target goes in a template.
const URLPlaceholder = "{url}"

// Transform turns a raw relay response body into page HTML.
type Transform func(body []byte) (string, error)

// Transform names accepted in configuration.
const (
	TransformRaw          = "raw"
	TransformJSONContents = "json-contents"
)

// Endpoint is a single relay.
type Endpoint struct {
	Name        string
	URLTemplate string
	Transform   Transform
}

// BuildURL substitutes the URL-encoded target into the template, appending
// it when the template carries no placeholder.
func (e Endpoint) BuildURL(target string) string {
	encoded := url.QueryEscape(target)
	if strings.Contains(e.URLTemplate, URLPlaceholder) {
		return strings.ReplaceAll(e.URLTemplate, URLPlaceholder, encoded)
	}
	return e.URLTemplate + encoded
}

// EndpointConfig is the declarative form of an Endpoint.
type EndpointConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Transform string `mapstructure:"transform"`
}

// DefaultEndpointConfigs lists the public relays used when none are configured.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Name: "allorigins", URL: "https://api.allorigins.win/get?url={url}", Transform: TransformJSONContents},
		{Name: "cors-anywhere", URL: "https://cors-anywhere.herokuapp.com/{url}", Transform: TransformRaw},
		{Name: "thingproxy", URL: "https://thingproxy.freeboard.io/fetch/{url}", Transform: TransformRaw},
		{Name: "codetabs", URL: "https://api.codetabs.com/v1/proxy?quest={url}", Transform: TransformRaw},
	}
}

// BuildEndpoints validates configs and resolves their transforms.
func BuildEndpoints(configs []EndpointConfig) ([]Endpoint, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("at least one relay endpoint is required")
	}
	endpoints := make([]Endpoint, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("relay %d: url is required", i)
		}
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("relay-%d", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("relay %q configured twice", name)
		}
		seen[name] = struct{}{}
		transform, err := TransformByName(cfg.Transform)
		if err != nil {
			return nil, fmt.Errorf("relay %q: %w", name, err)
		}
		endpoints = append(endpoints, Endpoint{Name: name, URLTemplate: cfg.URL, Transform: transform})
	}
	return endpoints, nil
}

// TransformByName resolves a configured transform; "" means raw.
func TransformByName(name string) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TransformRaw:
		return rawTransform, nil
	case TransformJSONContents:
		return jsonContentsTransform, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func rawTransform(body []byte) (string, error) {
	return string(body), nil
}

// jsonContentsTransform unwraps {"contents": "<html>..."} envelopes.
func jsonContentsTransform(body []byte) (string, error) {
	var envelope struct {
		Contents *string `json:"contents"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("decode relay envelope: %w", err)
	}
	if envelope.Contents == nil {
		return "", fmt.Errorf("relay envelope has no contents")
	}
	return *envelope.Contents, nil
}
