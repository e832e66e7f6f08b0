package storage

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/andresuchdata/s3downloader/internal/config"
)

const (
	BackendMinio = "minio"
	BackendAWS   = "aws"

	OptBackend      = "backend"
	OptEndpointURL  = "endpoint_url"
	OptRegionName   = "region_name"
	OptSessionToken = "aws_session_token"
	OptUseSSL       = "use_ssl"
	OptPathStyle    = "path_style"

	defaultEndpoint = "s3.amazonaws.com"
	defaultRegion   = "us-east-1"
)

// Options are the connection settings understood by the client constructors.
type Options struct {
	Backend string
	// Host is the endpoint as host[:port]; empty means the provider default.
	Host         string
	Secure       bool
	Region       string
	SessionToken string
	// PathStyle forces bucket-in-path addressing. It defaults to true when a
	// custom endpoint is configured.
	PathStyle bool
}

// EndpointURL returns the endpoint with its scheme, or "" when no custom
// endpoint was configured.
func (o Options) EndpointURL() string {
	if o.Host == "" {
		return ""
	}
	scheme := "https"
	if !o.Secure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, o.Host)
}

// ParseOptions interprets the pass-through options of a configuration
// section. Keys that no backend understands are rejected.
func ParseOptions(extra map[string]string) (Options, error) {
	opts := Options{
		Backend: BackendMinio,
		Secure:  true,
	}

	var unknown []string
	for key := range extra {
		switch key {
		case OptBackend, OptEndpointURL, OptRegionName, OptSessionToken, OptUseSSL, OptPathStyle:
		default:
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Options{}, fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(unknown, ", "))
	}

	if v, ok := extra[OptBackend]; ok {
		switch b := strings.ToLower(strings.TrimSpace(v)); b {
		case BackendMinio, BackendAWS:
			opts.Backend = b
		default:
			return Options{}, fmt.Errorf("%w: %s=%q (want %s or %s)", ErrInvalidOption, OptBackend, v, BackendMinio, BackendAWS)
		}
	}

	if v, ok := extra[OptUseSSL]; ok {
		secure, err := config.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, OptUseSSL, v, err)
		}
		opts.Secure = secure
	}

	if v := strings.TrimSpace(extra[OptEndpointURL]); v != "" {
		host, secure, hasScheme, err := parseEndpoint(v)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, OptEndpointURL, v, err)
		}
		opts.Host = host
		// An explicit scheme wins over use_ssl.
		if hasScheme {
			opts.Secure = secure
		}
		opts.PathStyle = true
	}

	if v, ok := extra[OptPathStyle]; ok {
		pathStyle, err := config.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, OptPathStyle, v, err)
		}
		opts.PathStyle = pathStyle
	}

	opts.Region = strings.TrimSpace(extra[OptRegionName])
	opts.SessionToken = extra[OptSessionToken]

	return opts, nil
}

func parseEndpoint(raw string) (host string, secure, hasScheme bool, err error) {
	if !strings.Contains(raw, "://") {
		host = strings.TrimSuffix(strings.TrimPrefix(raw, "//"), "/")
		if host == "" || strings.Contains(host, "/") {
			return "", false, false, fmt.Errorf("expected host[:port] or URL")
		}
		return host, true, false, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, false, err
	}
	switch u.Scheme {
	case "http":
		secure = false
	case "https":
		secure = true
	default:
		return "", false, false, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", false, false, fmt.Errorf("missing host")
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, false, fmt.Errorf("endpoint must not contain a path")
	}
	return u.Host, secure, true, nil
}
