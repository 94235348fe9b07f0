package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultRecvWindow bounds how long a signed request stays valid after its
// timestamp. A request the venue receives outside
// [timestamp, timestamp+recvWindow] is rejected as stale.
const DefaultRecvWindow = 5000 * time.Millisecond

// Credentials holds the API key/secret pair used to sign trading requests.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Auth signs REST requests with HMAC-SHA256: the request's query parameters,
// plus a timestamp and recv window, are URL-encoded in sorted key order and
// HMAC'd with the API secret; the resulting hex digest is appended as the
// "signature" parameter.
type Auth struct {
	creds      Credentials
	recvWindow time.Duration
}

// NewAuth builds an Auth from a credential pair. recvWindow of 0 selects
// DefaultRecvWindow.
func NewAuth(creds Credentials, recvWindow time.Duration) *Auth {
	if recvWindow <= 0 {
		recvWindow = DefaultRecvWindow
	}
	return &Auth{creds: creds, recvWindow: recvWindow}
}

// HasCredentials reports whether both key and secret are configured.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != "" && a.creds.APISecret != ""
}

// APIKey returns the configured API key, sent as a header on signed requests.
func (a *Auth) APIKey() string {
	return a.creds.APIKey
}

// Sign stamps params with a timestamp and recv window, then returns the
// full signed query string (original params plus timestamp, recvWindow and
// signature) ready to append to a request URL or body.
func (a *Auth) Sign(params url.Values) string {
	signed := cloneValues(params)
	signed.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	signed.Set("recvWindow", strconv.FormatInt(a.recvWindow.Milliseconds(), 10))

	payload := canonicalQueryString(signed)
	signed.Set("signature", a.sign(payload))
	return canonicalQueryString(signed)
}

// sign computes the hex-encoded HMAC-SHA256 of payload under the API secret.
func (a *Auth) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQueryString renders params as key=value pairs joined by '&', keys
// sorted lexically so the signed string is reproducible regardless of
// insertion order.
func canonicalQueryString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}
