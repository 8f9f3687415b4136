package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const maxGraphSize = 1 << 20 // 1 MB

var (
	yamlMIMEs = map[string]bool{
		"application/yaml":   true,
		"application/x-yaml": true,
		"text/yaml":          true,
		"text/x-yaml":        true,
		"text/plain":         true,
	}

	safeNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

func (s *Server) importGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	if strings.HasPrefix(rawURL, "data:") {
		data, err = decodeDataURI(rawURL)
	} else {
		data, err = fetchHTTP(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxGraphSize {
		return mcp.NewToolResultError(fmt.Sprintf("definition too large: %d bytes (max %d)", len(data), maxGraphSize)), nil
	}

	name := req.GetString("name", "")
	if name == "" {
		name = nameFromURL(rawURL)
	}
	name = sanitizeName(name)

	if _, _, readErr := s.eng.ReadGraph(ctx, name); readErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph already exists: %s", name)), nil
	}

	sum, err := s.eng.PutGraph(ctx, name, data, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store graph: %v", err)), nil
	}
	return jsonResult(sum)
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	if mime != "" && !yamlMIMEs[mime] {
		return nil, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, nil
}

// fetchHTTP downloads a definition from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if ct := strings.Split(resp.Header.Get("Content-Type"), ";")[0]; ct != "" && !yamlMIMEs[ct] && ct != "application/octet-stream" {
		return nil, fmt.Errorf("unsupported content type: %s", ct)
	}

	limited := io.LimitReader(resp.Body, maxGraphSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxGraphSize {
		return nil, fmt.Errorf("definition too large: exceeds %d bytes", maxGraphSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// nameFromURL takes the last path element without extension, falling back
// to a generated name.
func nameFromURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := strings.TrimSuffix(strings.TrimSuffix(path.Base(parsed.Path), ".yaml"), ".yml")
			if base != "" && base != "." && base != "/" {
				return base
			}
		}
	}
	return "graph-" + uuid.New().String()[:8]
}

// sanitizeName strips path separators and unsafe characters.
func sanitizeName(name string) string {
	name = strings.TrimLeft(safeNameRe.ReplaceAllString(path.Base(name), "_"), "_-")
	if name == "" {
		name = "graph-" + uuid.New().String()[:8]
	}
	return name
}
