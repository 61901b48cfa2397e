package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var log = logger.Scope("Source")

// refresh this long before the id token actually expires
const tokenSkew = time.Minute

type session struct {
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// Firebase reads a Realtime Database node over REST, authenticated as an
// email/password user. The session is created on first use and shared by
// all concurrent reads of this instance.
type Firebase struct {
	cfg    config.FirebaseConfig
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	sess  *session
	group singleflight.Group
}

// NewFirebase validates cfg and returns a source that signs in lazily.
// A nil client uses a client with a 15s timeout.
func NewFirebase(cfg config.FirebaseConfig, client *http.Client) (*Firebase, error) {
	var missing []string
	if cfg.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "database_url")
	}
	if cfg.Email == "" || cfg.Password == "" {
		missing = append(missing, "email/password")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("firebase %s: %w", strings.Join(missing, ", "), ErrNotConfigured)
	}
	if cfg.Path == "" {
		cfg.Path = "live"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Firebase{cfg: cfg, client: client, now: time.Now}, nil
}

// Latest reads the configured node. A 401 drops the session and the read is
// retried once with a fresh one.
func (f *Firebase) Latest(ctx context.Context) (types.SensorSnapshot, error) {
	token, err := f.token(ctx)
	if err != nil {
		return types.SensorSnapshot{}, err
	}

	rec, err := f.read(ctx, token)
	if errors.Is(err, errUnauthorized) {
		log.Warn("Database rejected session, signing in again")
		f.invalidate(token)
		if token, err = f.token(ctx); err != nil {
			return types.SensorSnapshot{}, err
		}
		rec, err = f.read(ctx, token)
	}
	if err != nil {
		return types.SensorSnapshot{}, err
	}
	return Normalize(rec), nil
}

// Close drops the session.
func (f *Firebase) Close() error {
	f.mu.Lock()
	f.sess = nil
	f.mu.Unlock()
	return nil
}

var errUnauthorized = errors.New("firebase: unauthorized")

func (f *Firebase) read(ctx context.Context, token string) (map[string]any, error) {
	u := strings.TrimRight(f.cfg.DatabaseURL, "/") + "/" + strings.Trim(f.cfg.Path, "/") + ".json?auth=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("firebase read: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("firebase read: decode: %w", err)
	}
	if rec == nil {
		return nil, ErrNoData
	}
	return rec, nil
}

// token returns a valid id token, signing in or refreshing at most once
// across concurrent callers.
func (f *Firebase) token(ctx context.Context) (string, error) {
	f.mu.Lock()
	s := f.sess
	f.mu.Unlock()
	if s != nil && f.now().Add(tokenSkew).Before(s.expiresAt) {
		return s.idToken, nil
	}

	v, err, _ := f.group.Do("session", func() (any, error) {
		f.mu.Lock()
		cur := f.sess
		f.mu.Unlock()
		if cur != nil && f.now().Add(tokenSkew).Before(cur.expiresAt) {
			return cur, nil
		}

		var next *session
		var err error
		if cur != nil && cur.refreshToken != "" {
			next, err = f.refresh(ctx, cur.refreshToken)
			if err != nil {
				log.Warn("Token refresh failed, signing in again: %v", err)
			}
		}
		if next == nil {
			next, err = f.signIn(ctx)
			if err != nil {
				return nil, err
			}
			log.Info("Signed in to Firebase as %s", f.cfg.Email)
		}

		f.mu.Lock()
		f.sess = next
		f.mu.Unlock()
		return next, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*session).idToken, nil
}

func (f *Firebase) invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess != nil && f.sess.idToken == token {
		f.sess = nil
	}
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) signIn(ctx context.Context) (*session, error) {
	body, err := json.Marshal(map[string]any{
		"email":             f.cfg.Email,
		"password":          f.cfg.Password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(f.cfg.AuthURL, "/") + "/accounts:signInWithPassword?key=" + url.QueryEscape(f.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out signInResponse
	if err := f.doAuth(req, "sign-in", &out); err != nil {
		return nil, err
	}
	return f.newSession(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (f *Firebase) refresh(ctx context.Context, refreshToken string) (*session, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	u := strings.TrimRight(f.cfg.TokenURL, "/") + "/token?key=" + url.QueryEscape(f.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out refreshResponse
	if err := f.doAuth(req, "refresh", &out); err != nil {
		return nil, err
	}
	return f.newSession(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (f *Firebase) doAuth(req *http.Request, op string, out any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("firebase %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("firebase %s: %s", op, apiErr.Error.Message)
		}
		return fmt.Errorf("firebase %s: status %d", op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("firebase %s: decode: %w", op, err)
	}
	return nil
}

func (f *Firebase) newSession(idToken, refreshToken, expiresIn string) (*session, error) {
	if idToken == "" {
		return nil, errors.New("firebase: empty id token")
	}
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return &session{
		idToken:      idToken,
		refreshToken: refreshToken,
		expiresAt:    f.now().Add(time.Duration(secs) * time.Second),
	}, nil
}
