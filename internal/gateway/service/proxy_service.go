package service

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type ProxyConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
}

// ProxyFactory builds one reverse proxy per upstream and reuses it.
type ProxyFactory struct {
	config    ProxyConfig
	upstreams map[string]*url.URL
	proxies   *xsync.MapOf[string, *httputil.ReverseProxy]
}

func NewProxyFactory(config ProxyConfig, upstreams map[string]*url.URL) *ProxyFactory {
	return &ProxyFactory{
		config:    config,
		upstreams: upstreams,
		proxies:   xsync.NewMapOf[string, *httputil.ReverseProxy](),
	}
}

// Get returns the proxy for the named upstream.
func (f *ProxyFactory) Get(name string) (*httputil.ReverseProxy, error) {
	upstream, ok := f.upstreams[name]
	if !ok || upstream == nil {
		return nil, fmt.Errorf("upstream %q not found", name)
	}
	proxy, _ := f.proxies.LoadOrCompute(name, func() *httputil.ReverseProxy {
		return f.build(upstream)
	})
	return proxy, nil
}

func (f *ProxyFactory) build(upstream *url.URL) *httputil.ReverseProxy {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: f.config.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          f.config.MaxIdleConns,
		MaxIdleConnsPerHost:   f.config.MaxIdleConnsPerHost,
		IdleConnTimeout:       f.config.IdleConnTimeout,
		TLSHandshakeTimeout:   f.config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: f.config.ResponseHeaderTimeout,
	}
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.Out.Host = upstream.Host
			r.SetXForwarded()
		},
		Transport: transport,
	}
}
