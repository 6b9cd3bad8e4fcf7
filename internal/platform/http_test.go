package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

// fakeSidecar is a minimal in-process stand-in for the platform sidecar.
type fakeSidecar struct {
	password    string
	challenge   bool
	publishErr  string
	loggedOut   bool
	lastLogin   loginBody
	lastPublish PublishRequest
}

func (f *fakeSidecar) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.lastLogin); err != nil {
			t.Errorf("bad login body: %v", err)
		}
		switch {
		case f.lastLogin.Password != f.password:
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_password", Message: "The password you entered is incorrect."})
		case f.challenge:
			w.Header().Set(sessionHeader, "pending-1")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "challenge_required", Message: "challenge_required"})
		default:
			writeJSON(w, http.StatusOK, sessionBody{SessionID: "sess-1", Settings: json.RawMessage(`{"uuid":"abc"}`)})
		}
	})

	mux.HandleFunc("GET /auth/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeader) != "sess-1" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "login_required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	mux.HandleFunc("POST /media/{kind}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastPublish)
		if f.publishErr != "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "upload_failed", Message: f.publishErr})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"media_id": "media-" + r.PathValue("kind")})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.loggedOut = true
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /challenge/request", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeader) != "pending-1" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "no_challenge"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /challenge/submit", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in map[string]string
		_ = json.Unmarshal(body, &in)
		if in["code"] != "123456" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "challenge_required", Message: "wrong code"})
			return
		}
		writeJSON(w, http.StatusOK, sessionBody{SessionID: "sess-1", Settings: json.RawMessage(`{"uuid":"verified"}`)})
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeSidecar) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, srv.Client(), Options{Proxy: "http://10.0.0.1:8080"})
}

func TestHTTPClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Login and Publish", func(t *testing.T) {
		f := &fakeSidecar{password: "pw"}
		c := newTestClient(t, f)

		if err := c.Login(ctx, "alice", "pw"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if f.lastLogin.Proxy != "http://10.0.0.1:8080" {
			t.Errorf("expected proxy to be sent, got %q", f.lastLogin.Proxy)
		}

		settings, err := c.Settings()
		if err != nil || string(settings) != `{"uuid":"abc"}` {
			t.Fatalf("unexpected settings %s (%v)", settings, err)
		}

		if err := c.ProbeLiveness(ctx); err != nil {
			t.Errorf("probe failed: %v", err)
		}

		id, err := c.Publish(ctx, PublishRequest{Kind: models.KindVideo, Paths: []string{"a.mp4"}, Caption: "hi"})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if id != "media-video" {
			t.Errorf("unexpected media id %s", id)
		}
		if f.lastPublish.Caption != "hi" || len(f.lastPublish.Paths) != 1 {
			t.Errorf("unexpected publish body %+v", f.lastPublish)
		}

		if err := c.Logout(ctx); err != nil {
			t.Errorf("logout failed: %v", err)
		}
		if !f.loggedOut {
			t.Error("expected logout call")
		}
		if err := c.ProbeLiveness(ctx); !errors.Is(err, ErrLoginRequired) {
			t.Errorf("expected ErrLoginRequired after logout, got %v", err)
		}
	})

	t.Run("Restored settings are sent with login", func(t *testing.T) {
		f := &fakeSidecar{password: "pw"}
		c := newTestClient(t, f)

		if err := c.RestoreSettings(json.RawMessage(`{"uuid":"old"}`)); err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if err := c.Login(ctx, "alice", "pw"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if string(f.lastLogin.Settings) != `{"uuid":"old"}` {
			t.Errorf("expected restored settings in login body, got %s", f.lastLogin.Settings)
		}
	})

	t.Run("RestoreSettings rejects garbage", func(t *testing.T) {
		c := NewHTTPClient("", nil, Options{})
		if err := c.RestoreSettings(json.RawMessage(`{not json`)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Bad password", func(t *testing.T) {
		c := newTestClient(t, &fakeSidecar{password: "pw"})
		err := c.Login(ctx, "alice", "wrong")
		if !errors.Is(err, ErrBadPassword) {
			t.Fatalf("expected ErrBadPassword, got %v", err)
		}
		if !IsAuthError(err) {
			t.Error("bad password should be an auth error")
		}
	})

	t.Run("Challenge flow", func(t *testing.T) {
		c := newTestClient(t, &fakeSidecar{password: "pw", challenge: true})

		err := c.Login(ctx, "alice", "pw")
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}

		if err := c.RequestChallengeCode(ctx); err != nil {
			t.Fatalf("request code failed: %v", err)
		}
		if err := c.SubmitChallengeCode(ctx, "000000"); !errors.Is(err, ErrChallengeRequired) {
			t.Errorf("expected wrong code to keep challenge, got %v", err)
		}
		if err := c.SubmitChallengeCode(ctx, "123456"); err != nil {
			t.Fatalf("submit code failed: %v", err)
		}

		settings, err := c.Settings()
		if err != nil || string(settings) != `{"uuid":"verified"}` {
			t.Errorf("unexpected settings after challenge %s (%v)", settings, err)
		}
		if err := c.ProbeLiveness(ctx); err != nil {
			t.Errorf("probe after challenge failed: %v", err)
		}
	})

	t.Run("Publish error text is verbatim", func(t *testing.T) {
		c := newTestClient(t, &fakeSidecar{password: "pw", publishErr: "Media upload failed: unsupported aspect ratio"})
		if err := c.Login(ctx, "alice", "pw"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		_, err := c.Publish(ctx, PublishRequest{Kind: models.KindPhoto, Paths: []string{"a.jpg"}})
		if err == nil || err.Error() != "Media upload failed: unsupported aspect ratio" {
			t.Fatalf("expected verbatim platform error, got %v", err)
		}
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("Publish without login", func(t *testing.T) {
		c := NewHTTPClient("", nil, Options{})
		if _, err := c.Publish(ctx, PublishRequest{Kind: models.KindPhoto}); !errors.Is(err, ErrLoginRequired) {
			t.Errorf("expected ErrLoginRequired, got %v", err)
		}
	})

	t.Run("Unreachable sidecar", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewHTTPClient(url, nil, Options{})
		if err := c.Login(ctx, "alice", "pw"); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})
}
