package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// TargetDescriptor is the network location of one version of a service in one
// environment, as published by the discovery authority.
// TargetDescriptor 是某环境中某服务某版本的网络位置，由服务发现权威源发布。
type TargetDescriptor struct {
	Env     string `json:"env"`
	Slug    string `json:"slug"`
	Version string `json:"version"`
	// BaseURL wins over Scheme/Host/Port when set.
	// 设置 BaseURL 时优先于 Scheme/Host/Port。
	BaseURL string `json:"baseUrl,omitempty"`
	Scheme  string `json:"scheme,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	// FetchedAt is when the resolver obtained this descriptor.
	// FetchedAt 为解析器获取该描述符的时间。
	FetchedAt time.Time `json:"-"`
}

// TargetKey builds the identity key env|slug|version.
// TargetKey 构造身份键 env|slug|version。
func TargetKey(env, slug, version string) string {
	return env + "|" + slug + "|" + version
}

// Key returns the identity key of the descriptor.
func (t *TargetDescriptor) Key() string {
	return TargetKey(t.Env, t.Slug, t.Version)
}

// ResolvedBaseURL returns BaseURL, or composes one from scheme, host and port.
// ResolvedBaseURL 返回 BaseURL，或由 scheme、host、port 组合得到。
func (t *TargetDescriptor) ResolvedBaseURL() (string, error) {
	if t.BaseURL != "" {
		u, err := url.Parse(t.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("target %s has malformed base url %q", t.Key(), t.BaseURL)
		}
		return t.BaseURL, nil
	}
	if t.Host == "" {
		return "", fmt.Errorf("target %s has neither base url nor host", t.Key())
	}
	scheme := t.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := t.Host
	if t.Port > 0 {
		host = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	}
	return scheme + "://" + host, nil
}

// Matches reports whether the descriptor answers env/slug/version.
func (t *TargetDescriptor) Matches(env, slug, version string) bool {
	return t.Env == env && t.Slug == slug && t.Version == version
}
