// Package cachesvc is the offline cache service: a versioned worker that
// sits between clients and the origin, precaches the application shell and
// answers requests with cache-first, network-first or stale-while-revalidate
// strategies depending on what is being requested.
package cachesvc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response is a fully buffered HTTP response as stored in a cache bucket.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone returns a deep copy so cached entries are never shared with callers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
		StoredAt:   r.StoredAt,
	}
}

// Write copies the response onto w.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range r.Header {
		if hopByHop[http.CanonicalHeaderKey(k)] {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}

// JSONResponse builds a response with a JSON encoded body.
func JSONResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
		status = http.StatusInternalServerError
	}
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       body,
	}
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// RequestKey is the cache identity of a request: method and path with query.
func RequestKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

func pathKey(path string) string {
	return http.MethodGet + " " + path
}
