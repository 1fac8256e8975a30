package cloudauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

type staticTokenSource struct {
	tok *oauth2.Token
	err error
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	return s.tok, s.err
}

func TestGCPTransportInjectsBearer(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	tr := newTransportFromSource(http.DefaultTransport, &staticTokenSource{
		tok: &oauth2.Token{AccessToken: "gcp-token"},
	})
	client := &http.Client{Transport: tr}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer gcp-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestGCPTransportDoesNotMutateRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := newTransportFromSource(nil, &staticTokenSource{
		tok: &oauth2.Token{AccessToken: "tok"},
	})
	req, err := http.NewRequest("GET", srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Error("original request gained an Authorization header")
	}
}

func TestGCPTransportTokenError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("token refresh failed")
	tr := newTransportFromSource(nil, &staticTokenSource{err: wantErr})
	req, err := http.NewRequest("GET", "http://example.invalid/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.RoundTrip(req); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}
