package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
)

// Google Calendar endpoints.
const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleCalendarAPI = "https://www.googleapis.com/calendar/v3"
)

var calendarScopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
}

// tokenRefreshMargin refreshes tokens that expire within this window.
const tokenRefreshMargin = 5 * time.Minute

// CalendarClient talks to Google Calendar. All operations are best-effort:
// bookings proceed on local data when Google is unreachable.
type CalendarClient struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewCalendarClient(clientID, clientSecret string) *CalendarClient {
	return &CalendarClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// OAuthURL builds the consent URL for connecting an agent's calendar.
func (c *CalendarClient) OAuthURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(calendarScopes, " "))
	params.Set("access_type", "offline")
	params.Set("prompt", "consent")
	params.Set("state", state)
	return googleAuthURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for tokens.
func (c *CalendarClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*agent.GoogleTokens, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)

	data, err := c.postForm(ctx, googleTokenURL, form)
	if err != nil {
		return nil, err
	}
	return tokensFromResponse(data, "")
}

// RefreshToken renews an access token, keeping the same refresh token.
func (c *CalendarClient) RefreshToken(ctx context.Context, refreshToken string) (*agent.GoogleTokens, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	data, err := c.postForm(ctx, googleTokenURL, form)
	if err != nil {
		return nil, err
	}
	return tokensFromResponse(data, refreshToken)
}

// ValidToken returns a usable access token, refreshing it when close to
// expiry. The second return value is non-nil when the caller must persist
// refreshed tokens.
func (c *CalendarClient) ValidToken(ctx context.Context, tokens *agent.GoogleTokens) (string, *agent.GoogleTokens, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return "", nil, fmt.Errorf("calendar not connected")
	}
	expiresAt := time.Unix(tokens.ExpiresAt, 0)
	if time.Now().Before(expiresAt.Add(-tokenRefreshMargin)) {
		return tokens.AccessToken, nil, nil
	}
	if tokens.RefreshToken == "" {
		return "", nil, fmt.Errorf("calendar token expired and no refresh token available")
	}
	refreshed, err := c.RefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		return "", nil, err
	}
	return refreshed.AccessToken, refreshed, nil
}

// BusyTimes queries the freeBusy API for the calendar's busy windows.
func (c *CalendarClient) BusyTimes(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string) ([][2]time.Time, error) {
	body := map[string]any{
		"timeMin":  start.UTC().Format("2006-01-02T15:04:05Z"),
		"timeMax":  end.UTC().Format("2006-01-02T15:04:05Z"),
		"timeZone": timezone,
		"items":    []map[string]string{{"id": calendarID}},
	}
	data, err := c.doJSON(ctx, http.MethodPost, googleCalendarAPI+"/freeBusy", accessToken, body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	var out [][2]time.Time
	for _, slot := range parsed.Calendars[calendarID].Busy {
		out = append(out, [2]time.Time{slot.Start, slot.End})
	}
	return out, nil
}

// CreateEvent creates a calendar event and returns its ID.
func (c *CalendarClient) CreateEvent(ctx context.Context, accessToken, calendarID, title string, start, end time.Time, description, timezone string) (string, error) {
	body := map[string]any{
		"summary":     title,
		"description": description,
		"start":       map[string]string{"dateTime": start.Format(time.RFC3339), "timeZone": timezone},
		"end":         map[string]string{"dateTime": end.Format(time.RFC3339), "timeZone": timezone},
	}
	data, err := c.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/calendars/%s/events", googleCalendarAPI, url.PathEscape(calendarID)), accessToken, body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// MoveEvent updates an event's start and end.
func (c *CalendarClient) MoveEvent(ctx context.Context, accessToken, calendarID, eventID string, start, end time.Time, timezone string) error {
	eventURL := fmt.Sprintf("%s/calendars/%s/events/%s",
		googleCalendarAPI, url.PathEscape(calendarID), url.PathEscape(eventID))

	data, err := c.doJSON(ctx, http.MethodGet, eventURL, accessToken, nil)
	if err != nil {
		return err
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	event["start"] = map[string]string{"dateTime": start.Format(time.RFC3339), "timeZone": timezone}
	event["end"] = map[string]string{"dateTime": end.Format(time.RFC3339), "timeZone": timezone}

	_, err = c.doJSON(ctx, http.MethodPut, eventURL, accessToken, event)
	return err
}

// DeleteEvent removes an event.
func (c *CalendarClient) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	eventURL := fmt.Sprintf("%s/calendars/%s/events/%s",
		googleCalendarAPI, url.PathEscape(calendarID), url.PathEscape(eventID))
	_, err := c.doJSON(ctx, http.MethodDelete, eventURL, accessToken, nil)
	return err
}

func (c *CalendarClient) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google token endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 100))
	}
	return data, nil
}

func (c *CalendarClient) doJSON(ctx context.Context, method, endpoint, accessToken string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logrus.Warnf("[CALENDAR] %s %s returned %d", method, endpoint, resp.StatusCode)
		return nil, fmt.Errorf("google calendar returned %d: %s", resp.StatusCode, truncate(string(data), 100))
	}
	return data, nil
}

func tokensFromResponse(data []byte, fallbackRefresh string) (*agent.GoogleTokens, error) {
	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("no access token in google response")
	}
	refresh := parsed.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	return &agent.GoogleTokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Unix() + expiresIn,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
